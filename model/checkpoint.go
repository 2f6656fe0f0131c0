package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/nn"
)

// 检查点容器格式（整体经 zstd 压缩）：
//
//	magic "CTRK" | uint32 LE 头长度 | JSON 头 | 原始张量数据
//
// JSON 头：{"version": "...", "tensors": [{"name", "shape", "dtype", "offset"}]}，
// offset 相对于数据段起点；f32 为 4 字节小端，f16 为 IEEE 半精度 2 字节小端。
const checkpointMagic = "CTRK"

// DType 张量存储精度
type DType string

const (
	DTypeF32 DType = "f32"
	DTypeF16 DType = "f16"
)

func (d DType) size() int {
	switch d {
	case DTypeF32:
		return 4
	case DTypeF16:
		return 2
	}
	return 0
}

// Tensor 是检查点中的一个命名张量（已解码为 float32）。
type Tensor struct {
	Shape []int
	Data  []float32
}

// Checkpoint 是一组命名张量加版本号。
type Checkpoint struct {
	Version string
	Tensors map[string]Tensor
}

type tensorHeader struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	DType  DType  `json:"dtype"`
	Offset int64  `json:"offset"`
}

type checkpointHeader struct {
	Version string         `json:"version"`
	Tensors []tensorHeader `json:"tensors"`
}

// FromParameters 拷贝参数生成检查点。
func FromParameters(version string, ps []nn.Param) *Checkpoint {
	ck := &Checkpoint{Version: version, Tensors: make(map[string]Tensor, len(ps))}
	for _, p := range ps {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		ck.Tensors[p.Name] = Tensor{Shape: append([]int(nil), p.Shape...), Data: data}
	}
	return ck
}

// EncodeCheckpoint 序列化检查点。张量按名称排序写入，输出是确定的。
func EncodeCheckpoint(ck *Checkpoint, dtype DType) ([]byte, error) {
	if dtype.size() == 0 {
		return nil, core.NewConfigurationError(core.ModuleModel, "checkpoint: unsupported dtype %q", dtype)
	}
	names := make([]string, 0, len(ck.Tensors))
	for name := range ck.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	hdr := checkpointHeader{Version: ck.Version}
	var data bytes.Buffer
	for _, name := range names {
		t := ck.Tensors[name]
		hdr.Tensors = append(hdr.Tensors, tensorHeader{Name: name, Shape: t.Shape, DType: dtype, Offset: int64(data.Len())})
		buf := make([]byte, len(t.Data)*dtype.size())
		for i, v := range t.Data {
			switch dtype {
			case DTypeF32:
				binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
			case DTypeF16:
				binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
			}
		}
		data.Write(buf)
	}

	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal header: %w", err)
	}
	var raw bytes.Buffer
	raw.WriteString(checkpointMagic)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdrBytes)))
	raw.Write(lenBuf[:])
	raw.Write(hdrBytes)
	raw.Write(data.Bytes())

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// DecodeCheckpoint 解析检查点。格式错误返回 CONFIGURATION。
func DecodeCheckpoint(blob []byte) (*Checkpoint, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleModel, core.ErrorCodeConfiguration, err, "checkpoint: decompress")
	}

	if len(raw) < len(checkpointMagic)+4 || string(raw[:len(checkpointMagic)]) != checkpointMagic {
		return nil, core.NewConfigurationError(core.ModuleModel, "checkpoint: bad magic")
	}
	raw = raw[len(checkpointMagic):]
	hdrLen := int(binary.LittleEndian.Uint32(raw[:4]))
	raw = raw[4:]
	if hdrLen > len(raw) {
		return nil, core.NewConfigurationError(core.ModuleModel, "checkpoint: header length %d exceeds blob", hdrLen)
	}
	var hdr checkpointHeader
	if err := json.Unmarshal(raw[:hdrLen], &hdr); err != nil {
		return nil, core.WrapDomainError(core.ModuleModel, core.ErrorCodeConfiguration, err, "checkpoint: header")
	}
	data := raw[hdrLen:]

	ck := &Checkpoint{Version: hdr.Version, Tensors: make(map[string]Tensor, len(hdr.Tensors))}
	for _, th := range hdr.Tensors {
		size := th.DType.size()
		if size == 0 {
			return nil, core.NewConfigurationError(core.ModuleModel, "checkpoint: tensor %s has dtype %q", th.Name, th.DType)
		}
		// 元素数上限为数据区可容纳的元素个数，逐维校验避免乘法溢出。
		limit := len(data) / size
		n := 1
		for _, d := range th.Shape {
			if d < 0 || (d > 0 && n > limit/d) {
				return nil, core.NewConfigurationError(core.ModuleModel, "checkpoint: tensor %s has shape %v", th.Name, th.Shape)
			}
			n *= d
		}
		if th.Offset < 0 || th.Offset > int64(len(data)) || int64(n*size) > int64(len(data))-th.Offset {
			return nil, core.NewConfigurationError(core.ModuleModel, "checkpoint: tensor %s out of bounds", th.Name)
		}
		buf := data[th.Offset : th.Offset+int64(n*size)]
		vals := make([]float32, n)
		for i := range vals {
			switch th.DType {
			case DTypeF32:
				vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
			case DTypeF16:
				vals[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
			}
		}
		ck.Tensors[th.Name] = Tensor{Shape: th.Shape, Data: vals}
	}
	return ck, nil
}

// Apply 校验所有参数均存在且形状一致后再整体覆盖；任一缺失或不匹配都不修改参数。
func (ck *Checkpoint) Apply(ps []nn.Param) error {
	for _, p := range ps {
		t, ok := ck.Tensors[p.Name]
		if !ok {
			return core.NewConfigurationError(core.ModuleModel, "checkpoint %q: missing tensor %s", ck.Version, p.Name)
		}
		if !slices.Equal(t.Shape, p.Shape) || len(t.Data) != len(p.Data) {
			return core.NewConfigurationError(core.ModuleModel,
				"checkpoint %q: tensor %s has shape %v, want %v", ck.Version, p.Name, t.Shape, p.Shape)
		}
	}
	for _, p := range ps {
		copy(p.Data, ck.Tensors[p.Name].Data)
	}
	return nil
}

package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持 errors.Is / errors.As，可包装底层错误（Err）
//   - 支持错误检查函数（IsXXX）
//
// 错误分类：
//   - INVALID_INPUT：请求字段不合法，在任何模型计算之前拒绝
//   - INVALID_IMAGE：缩略图无法解码为 RGB 图像
//   - CONFIGURATION：骨干网络不支持、嵌入维度不匹配等启动期致命错误
//   - MODEL_UNAVAILABLE：模型未加载，推理请求快速失败
//   - INFERENCE：前向计算中的意外失败，对外只暴露通用错误
//   - INDEX_OUT_OF_RANGE：嵌入表下标越界，说明调用方绕过了前置校验
//   - UNAVAILABLE：超时或并发饱和
type DomainError struct {
	Code    string // 错误代码（如 "INVALID_INPUT", "CONFIGURATION"）
	Message string // 错误消息
	Module  string // 模块名称（如 "feature", "encoder", "model"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is 按 Module + Code 比较，便于 errors.Is(err, ErrModelUnavailable) 这类哨兵判断。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误链中是否存在 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的第一个 DomainError，如果没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建包装底层错误的领域错误
func WrapDomainError(module, code string, err error, format string, args ...any) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound         = "NOT_FOUND"          // 资源不存在
	ErrorCodeNotSupported     = "NOT_SUPPORTED"      // 操作不支持
	ErrorCodeUnavailable      = "UNAVAILABLE"        // 服务不可用（超时、饱和）
	ErrorCodeInvalidInput     = "INVALID_INPUT"      // 输入无效
	ErrorCodeInvalidImage     = "INVALID_IMAGE"      // 图像无法解码
	ErrorCodeConfiguration    = "CONFIGURATION"      // 配置错误（启动期致命）
	ErrorCodeModelUnavailable = "MODEL_UNAVAILABLE"  // 模型未加载
	ErrorCodeInference        = "INFERENCE"          // 前向计算失败
	ErrorCodeIndexOutOfRange  = "INDEX_OUT_OF_RANGE" // 嵌入表越界
)

// 模块名称常量
const (
	ModuleStore    = "store"    // 存储模块
	ModuleFeature  = "feature"  // 特征预处理模块
	ModuleEncoder  = "encoder"  // 编码器模块
	ModuleModel    = "model"    // 模型（融合头、检查点）模块
	ModuleService  = "service"  // 推理服务模块
	ModuleBackbone = "backbone" // 外部骨干网络（分词、编码、图像特征）
)

// 哨兵错误，仅用于 errors.Is 比较（Module 为空表示匹配任意模块）
var (
	ErrValidation       = &DomainError{Code: ErrorCodeInvalidInput, Message: "validation error"}
	ErrInvalidImage     = &DomainError{Code: ErrorCodeInvalidImage, Message: "invalid image"}
	ErrConfiguration    = &DomainError{Code: ErrorCodeConfiguration, Message: "configuration error"}
	ErrModelUnavailable = &DomainError{Code: ErrorCodeModelUnavailable, Message: "model unavailable"}
	ErrInference        = &DomainError{Code: ErrorCodeInference, Message: "inference error"}
	ErrIndexOutOfRange  = &DomainError{Code: ErrorCodeIndexOutOfRange, Message: "index out of range"}
	ErrUnavailable      = &DomainError{Code: ErrorCodeUnavailable, Message: "service unavailable"}
)

// NewValidationError 创建校验错误
func NewValidationError(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeInvalidInput, fmt.Sprintf(format, args...))
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(module, format string, args ...any) *DomainError {
	return NewDomainError(module, ErrorCodeConfiguration, fmt.Sprintf(format, args...))
}

// hasCode 检查错误链中的 DomainError 是否为指定错误码
func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsValidation 检查错误是否为 INVALID_INPUT
func IsValidation(err error) bool { return hasCode(err, ErrorCodeInvalidInput) }

// IsInvalidImage 检查错误是否为 INVALID_IMAGE
func IsInvalidImage(err error) bool { return hasCode(err, ErrorCodeInvalidImage) }

// IsConfiguration 检查错误是否为 CONFIGURATION
func IsConfiguration(err error) bool { return hasCode(err, ErrorCodeConfiguration) }

// IsModelUnavailable 检查错误是否为 MODEL_UNAVAILABLE
func IsModelUnavailable(err error) bool { return hasCode(err, ErrorCodeModelUnavailable) }

// IsInference 检查错误是否为 INFERENCE
func IsInference(err error) bool { return hasCode(err, ErrorCodeInference) }

// IsIndexOutOfRange 检查错误是否为 INDEX_OUT_OF_RANGE
func IsIndexOutOfRange(err error) bool { return hasCode(err, ErrorCodeIndexOutOfRange) }

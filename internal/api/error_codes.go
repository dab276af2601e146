// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"

	// 项目相关错误
	ErrorProjectNotFound     = "PROJECT_NOT_FOUND"
	ErrorProjectCreateFailed = "PROJECT_CREATE_FAILED"
	ErrorProjectInvalid      = "PROJECT_INVALID"

	// 文档相关错误
	ErrorDocumentNotFound   = "DOCUMENT_NOT_FOUND"
	ErrorDocumentInvalid    = "DOCUMENT_INVALID"
	ErrorDocumentSaveFailed = "DOCUMENT_SAVE_FAILED"

	// 变换与生成相关错误
	ErrorTransformNotFound   = "TRANSFORM_NOT_FOUND"
	ErrorGenerationFailed    = "GENERATION_FAILED"
	ErrorGenerationConflict  = "GENERATION_CONFLICT"
	ErrorStageInvalid        = "STAGE_INVALID"
	ErrorStreamUnavailable   = "STREAM_UNAVAILABLE"
	ErrorGenerationParams    = "INVALID_GENERATION_PARAMS"
	ErrorBaseDocumentMissing = "BASE_DOCUMENT_MISSING"

	// 补丁相关错误
	ErrorPatchSetNotFound   = "PATCH_SET_NOT_FOUND"
	ErrorPatchApplyFailed   = "PATCH_APPLY_FAILED"
	ErrorPatchSetResolved   = "PATCH_SET_RESOLVED"
	ErrorPatchInvalid       = "PATCH_INVALID"
	ErrorPatchPreviewFailed = "PATCH_PREVIEW_FAILED"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"

	// 导出相关错误
	ErrorExportFailed             = "EXPORT_FAILED"
	ErrorExportServiceUnavailable = "EXPORT_SERVICE_UNAVAILABLE"
	ErrorExportFormatInvalid      = "EXPORT_FORMAT_INVALID"
	ErrorExportDataEmpty          = "EXPORT_DATA_EMPTY"

	// 配置健康相关
	ErrorConfigUnhealthy    = "CONFIG_UNHEALTHY"
	ErrorConfigNotLoaded    = "CONFIG_NOT_LOADED"
	ErrorLLMProviderMissing = "LLM_PROVIDER_MISSING"
	ErrorAPIKeyMissing      = "API_KEY_MISSING"
)

package dispatch

// Translation keys used by the router.
const (
	KeyWelcome           = "BOT_WELCOME_MESSAGE"
	KeyFunction          = "BOT_FUNCTION_DESCRIPTION"
	KeyRequestFileOrURL  = "BOT_REQUEST_FILE_OR_URL"
	KeyButtonCheckIP     = "BOT_BUTTON_CHECK_IP"
	KeyPublicIP          = "BOT_PUBLIC_IP"
	KeyErrorIPRetrieval  = "BOT_ERROR_IP_RETRIEVAL"
	KeyAnalyzingFile     = "BOT_STATUS_ANALYZING_FILE"
	KeyAnalyzingURL      = "BOT_STATUS_ANALYZING_URL"
	KeyErrorFileAnalysis = "BOT_ERROR_FILE_ANALYSIS"
	KeyErrorURLAnalysis  = "BOT_ERROR_URL_ANALYSIS"
	KeyErrorFileTooLarge = "BOT_ERROR_FILE_TOO_LARGE"
	KeyErrorRateLimited  = "BOT_ERROR_RATE_LIMITED"
	KeyErrorSlowDown     = "BOT_ERROR_SLOW_DOWN"
)

// CallbackCheckIP is the callback data of the welcome keyboard button.
const CallbackCheckIP = "check_ip"

package config

const (
	defaultConfigPath            = "~/.config/aoi/config.toml"
	defaultImageDir              = "~/aoi/images"
	defaultStateDir              = "~/.local/share/aoi"
	defaultLogDir                = "~/.local/share/aoi/logs"
	defaultListen                = ":8080"
	defaultAPIBind               = "127.0.0.1:7490"
	defaultMaxImageMiB           = 64
	defaultServiceName           = "aoi-controller"
	defaultNoticeTTLMillis       = 2000
	defaultCompletionGraceMillis = 2000
	defaultWriteQueue            = 32
	defaultCameraIDFile          = "~/.local/share/aoi/camera_id"
	defaultRedialSeconds         = 5
	defaultCaptureTimeoutSeconds = 10
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ImageDir: defaultImageDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Controller: Controller{
			Listen:      defaultListen,
			APIBind:     defaultAPIBind,
			MaxImageMiB: defaultMaxImageMiB,
			Advertise:   true,
			ServiceName: defaultServiceName,
		},
		Workflow: Workflow{
			NoticeTTLMillis:       defaultNoticeTTLMillis,
			CompletionGraceMillis: defaultCompletionGraceMillis,
			WriteQueue:            defaultWriteQueue,
		},
		Station: Station{
			CameraIDFile:          defaultCameraIDFile,
			RedialSeconds:         defaultRedialSeconds,
			CaptureTimeoutSeconds: defaultCaptureTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyRequestTimeout,
			SessionComplete:   true,
			SessionIncomplete: true,
			Errors:            true,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

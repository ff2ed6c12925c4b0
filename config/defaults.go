package config

import (
	"github.com/arloliu/go-cnc/controller"
	"github.com/arloliu/go-cnc/transport"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Connection: Connection{
			Type:         "serial",
			BaudRate:     transport.DefaultBaudRate,
			ReadTimeout:  Duration(transport.DefaultReadTimeout),
			DialTimeout:  Duration(transport.DefaultDialTimeout),
			WriteTimeout: Duration(transport.DefaultWriteTimeout),
		},
		Controller: Controller{
			Family:           "grbl",
			AutoDetect:       true,
			ErrorPolicy:      "continue",
			Polling:          true,
			PollInterval:     Duration(controller.DefaultPollInterval),
			HandshakeTimeout: Duration(controller.DefaultHandshakeTimeout),
			ResetSettle:      Duration(controller.DefaultResetSettle),
			RequestTimeout:   Duration(controller.DefaultRequestTimeout),
			ReconnectDelay:   Duration(controller.DefaultReconnectDelay),
		},
		Logging: Logging{
			Level: "info",
		},
		Journal: Journal{
			Path: "~/.local/share/cncstream/journal.db",
		},
		Metrics: Metrics{
			Machine: "cnc",
		},
	}
}

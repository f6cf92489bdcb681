// Package logging wraps uber/zap for the backends.
//
// Production writes JSON lines; development writes coloured console
// output and is selected whenever APP_ENV is not production.
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	logger.Info("listening", zap.String("addr", cfg.Addr()))
package logging

package logging

import "go.uber.org/zap"

// New builds the process logger. Production config for env "prod", console
// development config otherwise.
func New(env string) (*zap.Logger, error) {
	if env == "prod" || env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

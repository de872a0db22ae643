package log

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/unionhall/referral-app/conf"
)

var (
	API     logrus.FieldLogger
	Request logrus.FieldLogger

	Engine logrus.FieldLogger
	Sweep  logrus.FieldLogger
	Worker logrus.FieldLogger
)

func init() {
	API = Logger(logrus.New(), conf.GetEnv("REFERRAL_ERROR_LOG"),
		"api", conf.GetEnv("ENVIRONMENT"))
	Request = Logger(logrus.New(), conf.GetEnv("REFERRAL_REQUEST_LOG"),
		"api", conf.GetEnv("ENVIRONMENT"))

	Engine = Logger(logrus.New(), conf.GetEnv("REFERRAL_ENGINE_LOG"),
		"engine", conf.GetEnv("ENVIRONMENT"))
	Sweep = Logger(logrus.New(), conf.GetEnv("REFERRAL_SWEEP_LOG"),
		"sweep", conf.GetEnv("ENVIRONMENT"))
	Worker = Logger(logrus.New(), conf.GetEnv("REFERRAL_WORKER_ERROR_LOG"),
		"worker", conf.GetEnv("ENVIRONMENT"))
}

func Logger(logger *logrus.Logger, outputFile string,
	application, environment string) logrus.FieldLogger {

	if outputFile != "" {
		if file, err := os.OpenFile(filepath.Clean(outputFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			logger.SetOutput(file)
		} else {
			logger.Infof("Failed to open output file %s. Will use stderr. %s",
				outputFile, err.Error())
		}
	}

	return logger.WithFields(logrus.Fields{
		"application": application,
		"environment": environment})
}

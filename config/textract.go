package config

import (
	"os"
	"strconv"
	"sync"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float64
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()
		minConf := 0.0
		if v := os.Getenv("TEXTRACT_MIN_CONFIDENCE"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				minConf = f
			}
		}
		textractConfig = &TextractConfig{
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Endpoint:      os.Getenv("AWS_ENDPOINT"),
			AccessKey:     os.Getenv("AWS_ACCESS_KEY"),
			SecretKey:     os.Getenv("AWS_SECRET_KEY"),
			MinConfidence: minConf,
		}
	})
	return textractConfig
}

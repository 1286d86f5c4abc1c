package config

import "github.com/spf13/viper"

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Queue struct {
		MaxRetry     int `mapstructure:"maxRetry"`
		BaseBackoff  int `mapstructure:"baseBackoffMs"`
		MaxBackoff   int `mapstructure:"maxBackoffMs"`
		FlushDelay   int `mapstructure:"flushDelayMs"`
		FlushTimeout int `mapstructure:"flushTimeoutMs"`
	} `mapstructure:"queue"`
}

// Load 读取 sessionConfig.yaml。
// 兼容从项目根目录或 backend 目录启动
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("sessionConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

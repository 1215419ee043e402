package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Approval ApprovalConfig `mapstructure:"approval"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	ApprovalResult string `mapstructure:"approval_result"` // 审批结论事件
	BudgetEvent    string `mapstructure:"budget_event"`    // 预算落账事件（激活/调整/调拨）
}

type BusinessConfig struct {
	StaleReservationDays int `mapstructure:"stale_reservation_days"` // 占用超期天数，默认30
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"` // 超期清理任务执行间隔
	SweepBatchSize       int `mapstructure:"sweep_batch_size"`       // 每个编码单次清理上限
	MaxRetryCount        int `mapstructure:"max_retry_count"`        // 发件箱最大重试次数
}

// ApprovalConfig 各实体类型的审批链定义
// 审批链在实体创建时按这里的顺序实例化，创建后不可变
type ApprovalConfig struct {
	BudgetCode  []ApproverConfig `mapstructure:"budget_code"`
	Revision    []ApproverConfig `mapstructure:"revision"`
	Transfer    []ApproverConfig `mapstructure:"transfer"`
	Requisition []ApproverConfig `mapstructure:"requisition"`
}

type ApproverConfig struct {
	Name       string `mapstructure:"name"`
	Role       string `mapstructure:"role"`
	Email      string `mapstructure:"email"`
	Department string `mapstructure:"department"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	applyDefaults(config)

	GlobalConfig = config
	return config
}

func applyDefaults(config *Config) {
	if config.Business.StaleReservationDays <= 0 {
		config.Business.StaleReservationDays = 30
	}
	if config.Business.SweepIntervalSeconds <= 0 {
		config.Business.SweepIntervalSeconds = 3600
	}
	if config.Business.SweepBatchSize <= 0 {
		config.Business.SweepBatchSize = 100
	}
	if config.Business.MaxRetryCount <= 0 {
		config.Business.MaxRetryCount = 3
	}
}

package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 generation/策略/命中来源字段，供请求日志复用。
func RequestFields(generation, strategy, host, source string) logrus.Fields {
	return logrus.Fields{
		"generation": generation,
		"strategy":   strategy,
		"host":       host,
		"source":     source,
		"cache_hit":  source == "cache",
	}
}

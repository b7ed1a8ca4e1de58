package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/请求 ID/状态字段，供传输层访问日志复用。
func RequestFields(site, domain, requestID string, status int) logrus.Fields {
	return logrus.Fields{
		"site":       site,
		"domain":     domain,
		"request_id": requestID,
		"status":     status,
	}
}

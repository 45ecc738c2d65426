package notifier

import "strings"

// RenderMessage 渲染消息模板
// 模板占位符形如 {{contact_name}}、{{owner_id}}、{{access_level}}、{{trigger_type}}
func RenderMessage(template string, vars map[string]string) string {
	message := template
	for key, value := range vars {
		message = strings.ReplaceAll(message, "{{"+key+"}}", value)
	}
	return message
}

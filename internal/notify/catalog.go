package notify

import "fmt"

// MessageKey identifies a user-facing status line in the catalog
type MessageKey string

const (
	MsgConfigInvalid    MessageKey = "config_invalid"
	MsgCorpusLoaded     MessageKey = "corpus_loaded"
	MsgPromptsBuilt     MessageKey = "prompts_built"
	MsgRepliesDropped   MessageKey = "replies_dropped"
	MsgRunStarted       MessageKey = "run_started"
	MsgNoPendingRows    MessageKey = "no_pending_rows"
	MsgRowCoded         MessageKey = "row_coded"
	MsgRowFailed        MessageKey = "row_failed"
	MsgRowEmpty         MessageKey = "row_empty"
	MsgRowSaveFailed    MessageKey = "row_save_failed"
	MsgStopRequested    MessageKey = "stop_requested"
	MsgRunCompleted     MessageKey = "run_completed"
	MsgRunStopped       MessageKey = "run_stopped"
	MsgCountFailed      MessageKey = "count_failed"
	MsgExportRowInvalid MessageKey = "export_row_invalid"
	MsgExportFinished   MessageKey = "export_finished"
	MsgExportWritten    MessageKey = "export_written"
)

// Catalog maps a language to its message formats
type Catalog map[string]map[MessageKey]string

// DefaultCatalog holds the English and Chinese status lines
var DefaultCatalog = Catalog{
	"en": {
		MsgConfigInvalid:    "Configuration error: %s",
		MsgCorpusLoaded:     "Loaded %d topics, %d replies and %d codes",
		MsgPromptsBuilt:     "Generated %d prompts",
		MsgRepliesDropped:   "%d replies skipped because their parent reply was not found: %v",
		MsgRunStarted:       "Coding started: %d rows queued, %d workers",
		MsgNoPendingRows:    "No rows waiting for coding",
		MsgRowCoded:         "Row %d coded",
		MsgRowFailed:        "Row %d failed (%s, HTTP %d): %s",
		MsgRowEmpty:         "Row %d failed: the model returned an empty answer",
		MsgRowSaveFailed:    "Row %d could not be saved: %s",
		MsgStopRequested:    "Stopping, waiting for running requests to finish",
		MsgRunCompleted:     "Coding finished: %d coded, %d remaining",
		MsgRunStopped:       "Coding stopped: %d coded, %d remaining",
		MsgCountFailed:      "Could not count remaining rows: %s",
		MsgExportRowInvalid: "Row %d result is not valid JSON: %s",
		MsgExportFinished:   "Parsed %d results, %d failed",
		MsgExportWritten:    "Result exported to %s",
	},
	"zh": {
		MsgConfigInvalid:    "配置错误：%s",
		MsgCorpusLoaded:     "已导入 %d 个主题、%d 条回复和 %d 个编码",
		MsgPromptsBuilt:     "已生成 %d 条提示词",
		MsgRepliesDropped:   "%d 条回复因找不到上级回复而被跳过：%v",
		MsgRunStarted:       "开始编码：共 %d 条，%d 个线程",
		MsgNoPendingRows:    "没有待编码的数据",
		MsgRowCoded:         "第 %d 条编码完成",
		MsgRowFailed:        "第 %d 条编码失败（%s，HTTP %d）：%s",
		MsgRowEmpty:         "第 %d 条编码失败：模型返回为空",
		MsgRowSaveFailed:    "第 %d 条结果保存失败：%s",
		MsgStopRequested:    "正在停止，等待进行中的请求完成",
		MsgRunCompleted:     "编码结束：已编码 %d 条，剩余 %d 条",
		MsgRunStopped:       "编码已停止：已编码 %d 条，剩余 %d 条",
		MsgCountFailed:      "无法统计剩余数量：%s",
		MsgExportRowInvalid: "第 %d 条结果不是有效的 JSON：%s",
		MsgExportFinished:   "解析成功 %d 条，失败 %d 条",
		MsgExportWritten:    "结果已导出到 %s",
	},
}

// Format renders key in lang, falling back to English and then to the key itself
func (c Catalog) Format(lang string, key MessageKey, args ...interface{}) string {
	format, ok := c[lang][key]
	if !ok {
		format, ok = c["en"][key]
	}
	if !ok {
		if len(args) == 0 {
			return string(key)
		}
		return fmt.Sprintf("%s %v", key, args)
	}
	return fmt.Sprintf(format, args...)
}

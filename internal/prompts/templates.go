package prompts

// Section text for one supported display language
type sectionText struct {
	Instructions  string
	SchemeHeader  string
	TopicHeader   string
	RepliesHeader string
	CodeColumn    string
	DescColumn    string
}

// Instruction preambles. Both describe the same output contract: a JSON array
// of {reply_id, tags, reason} objects, with "NULL" when no code applies.
const (
	instructionsEN = `You will see a forum topic and a thread of replies. For every reply, assign a set of tags using ONLY the codes in the coding table below, following their descriptions. Output "NULL" as the only tag when no code in the table fits. For every tag give a short reason with an example from the reply text; tags and reason correspond one to one.
Answer with a JSON array and nothing else:
[{"reply_id":"1234","tags":["CODE"],"reason":["why"]},{"reply_id":"2345","tags":["NULL"],"reason":["why"]}]
Fill the values from the actual replies; do not copy the example.`

	instructionsZH = `您将看到一个论坛话题及其下的一组回帖。请仅依据下方编码表中各编码的含义，为每条回帖提取一组标签（tags）；只有当编码表中没有合适的编码时，才输出 "NULL"。请用中文为每个标签说明理由并举例，tags 与 reason 中的内容一一对应。
只输出 JSON 数组，不要包含其他内容：
[{"reply_id":"1234","tags":["CODE"],"reason":["理由"]},{"reply_id":"2345","tags":["NULL"],"reason":["理由"]}]
请根据实际内容填写，不要直接复制示例。`
)

var sections = map[string]sectionText{
	"en": {
		Instructions:  instructionsEN,
		SchemeHeader:  "Coding table:",
		TopicHeader:   "Topic:",
		RepliesHeader: "Replies:",
		CodeColumn:    "code",
		DescColumn:    "description",
	},
	"zh": {
		Instructions:  instructionsZH,
		SchemeHeader:  "编码表：",
		TopicHeader:   "话题：",
		RepliesHeader: "回帖：",
		CodeColumn:    "编码",
		DescColumn:    "说明",
	},
}

// Reply line layout: - <user_name>(reply_id:<id>): <content>
const replyLineFormat = "- %s(reply_id:%d): %s"

package orchestrator

import (
	"fmt"
	"sort"

	"github.com/harun/deepchat/pkg/search"
)

// Catalog holds every user-visible string of the pipeline for one locale.
// Fields ending in Format take fmt verbs.
type Catalog struct {
	Locale string

	Start                  string
	AgentUnavailableFormat string // display name
	AgentSelectedFormat    string // display name
	Search                 string
	SearchRetryFormat      string // attempt, max attempts
	SearchFailed           string
	SearchCompleteFormat   string // result count
	SearchEmpty            string
	Analyzing              string
	AgentThinking          string
	ProcessingComplete     string
	Generating             string
	Complete               string
	AgentErrorFormat       string // error
	Fallback               string
	FallbackAnswerFormat   string // error
	FallbackComplete       string
	SystemErrorFormat      string // error

	ApologyFormat         string // error
	ProcessingErrorFormat string // error
	UnavailableReply      string
	EmptyAnswer           string
	ShortAnswer           string
	SessionReset          string

	ContextLabels search.ContextLabels
}

var catalogs = map[string]Catalog{
	"zh": {
		Locale:                 "zh",
		Start:                  "🤖 Deep Agent 正在启动...",
		AgentUnavailableFormat: "❌ %s 不可用，请检查系统配置",
		AgentSelectedFormat:    "✅ 已选择 %s",
		Search:                 "🔍 正在搜索相关信息...",
		SearchRetryFormat:      "🔄 搜索重试中... (%d/%d)",
		SearchFailed:           "⚠️ 搜索失败，将基于已有知识回答",
		SearchCompleteFormat:   "✅ 找到 %d 条相关信息",
		SearchEmpty:            "📭 未找到相关信息，将基于已有知识回答",
		Analyzing:              "🧠 正在进行深度分析...",
		AgentThinking:          "🤔 Deep Agent 正在思考...",
		ProcessingComplete:     "✅ 分析完成，正在整理回答...",
		Generating:             "✍️ 正在生成回答...",
		Complete:               "🎉 回答完成！",
		AgentErrorFormat:       "🚫 Deep Agent 处理失败: %v",
		Fallback:               "🔄 切换到简化模式...",
		FallbackAnswerFormat:   "抱歉，Deep Agent 遇到了问题：%v\n\n这可能是由于网络连接、API 限制或系统配置问题导致的。请稍后重试，或联系管理员检查系统状态。",
		FallbackComplete:       "⚠️ 已使用简化模式完成回答",
		SystemErrorFormat:      "💥 系统错误：%v",
		ApologyFormat:          "抱歉，生成回答时出现错误：%v",
		ProcessingErrorFormat:  "抱歉，处理您的请求时出现了错误：%v",
		UnavailableReply:       "抱歉，Deep Agents 未能正确初始化，无法处理您的请求。",
		EmptyAnswer:            "代理处理完成，但未返回具体内容。",
		ShortAnswer:            "我正在为您分析这个问题，请稍等片刻...",
		SessionReset:           "会话已重置",
		ContextLabels: search.ContextLabels{
			Heading: "搜索结果参考：",
			Title:   "标题",
			Content: "内容",
		},
	},
	"en": {
		Locale:                 "en",
		Start:                  "🤖 Deep Agent is starting...",
		AgentUnavailableFormat: "❌ %s is unavailable, please check the system configuration",
		AgentSelectedFormat:    "✅ Selected %s",
		Search:                 "🔍 Searching for relevant information...",
		SearchRetryFormat:      "🔄 Retrying search... (%d/%d)",
		SearchFailed:           "⚠️ Search failed, answering from existing knowledge",
		SearchCompleteFormat:   "✅ Found %d relevant results",
		SearchEmpty:            "📭 Nothing relevant found, answering from existing knowledge",
		Analyzing:              "🧠 Running in-depth analysis...",
		AgentThinking:          "🤔 Deep Agent is thinking...",
		ProcessingComplete:     "✅ Analysis complete, preparing the answer...",
		Generating:             "✍️ Generating the answer...",
		Complete:               "🎉 Answer complete!",
		AgentErrorFormat:       "🚫 Deep Agent failed: %v",
		Fallback:               "🔄 Switching to simplified mode...",
		FallbackAnswerFormat:   "Sorry, Deep Agent ran into a problem: %v\n\nThis may be caused by the network, API limits or the system configuration. Please try again later or ask an administrator to check the system status.",
		FallbackComplete:       "⚠️ Answered in simplified mode",
		SystemErrorFormat:      "💥 System error: %v",
		ApologyFormat:          "Sorry, an error occurred while generating the answer: %v",
		ProcessingErrorFormat:  "Sorry, an error occurred while processing your request: %v",
		UnavailableReply:       "Sorry, Deep Agents failed to initialize and cannot handle your request.",
		EmptyAnswer:            "The agent finished but returned no content.",
		ShortAnswer:            "I'm analyzing this question for you, please wait a moment...",
		SessionReset:           "Session reset",
		ContextLabels: search.ContextLabels{
			Heading: "Search results for reference:",
			Title:   "Title",
			Content: "Content",
		},
	},
}

// DefaultLocale is used for unknown locales.
const DefaultLocale = "zh"

// CatalogFor returns the catalog for locale, falling back to DefaultLocale.
func CatalogFor(locale string) Catalog {
	if c, ok := catalogs[locale]; ok {
		return c
	}
	return catalogs[DefaultLocale]
}

// Locales lists the locales that have a catalog, sorted.
func Locales() []string {
	locales := make([]string, 0, len(catalogs))
	for locale := range catalogs {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	return locales
}

// Apology is the degraded answer for a failed model call.
func (c Catalog) Apology(err error) string {
	return fmt.Sprintf(c.ApologyFormat, err)
}

func (c Catalog) agentUnavailable(name string) string {
	return fmt.Sprintf(c.AgentUnavailableFormat, name)
}

func (c Catalog) agentSelected(name string) string {
	return fmt.Sprintf(c.AgentSelectedFormat, name)
}

func (c Catalog) searchRetry(attempt, maxAttempts int) string {
	return fmt.Sprintf(c.SearchRetryFormat, attempt, maxAttempts)
}

func (c Catalog) searchComplete(n int) string {
	return fmt.Sprintf(c.SearchCompleteFormat, n)
}

func (c Catalog) agentError(err error) string {
	return fmt.Sprintf(c.AgentErrorFormat, err)
}

func (c Catalog) fallbackAnswer(err error) string {
	return fmt.Sprintf(c.FallbackAnswerFormat, err)
}

func (c Catalog) systemError(err interface{}) string {
	return fmt.Sprintf(c.SystemErrorFormat, err)
}

func (c Catalog) processingError(err interface{}) string {
	return fmt.Sprintf(c.ProcessingErrorFormat, err)
}

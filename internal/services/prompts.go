// internal/services/prompts.go
package services

import (
	"fmt"
	"strings"

	"github.com/scriptloom/scriptloom/internal/models"
)

// 各生成阶段的提示词模板。中英双语、要求严格JSON：
// 格式越确定，流式解析层越少走修复和提取两档

func stageSystemPrompt(stage string) string {
	switch stage {
	case StageIdeas:
		return "你是一位短剧策划，擅长为竖屏短剧平台构思高钩子、强冲突的故事创意。" +
			" You are a short-drama planner who pitches high-hook, high-conflict premises for vertical platforms."
	case StageOutline:
		return "你是一位资深编剧，负责把故事创意拆解为节奏紧凑的分幕大纲。" +
			" You are a senior screenwriter who breaks a premise into a tightly paced act outline."
	case StageEpisodes:
		return "你是一位短剧总编剧，负责把大纲落实为每集的剧情梗概，每集结尾必须留钩子。" +
			" You are a head writer who turns an outline into per-episode synopses, each ending on a hook."
	case StageScript:
		return "你是一位台词功底扎实的编剧，负责把单集梗概写成分场剧本。" +
			" You are a dialogue-focused screenwriter who turns one episode synopsis into a scene-by-scene script."
	default:
		return "你是一位短剧编剧助手。 You are a short-drama writing assistant."
	}
}

func projectBrief(project *models.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "项目 / Project: %s\n", project.Title)
	if project.Genre != "" {
		fmt.Fprintf(&b, "题材 / Genre: %s\n", project.Genre)
	}
	if project.Platform != "" {
		fmt.Fprintf(&b, "平台 / Platform: %s\n", project.Platform)
	}
	if project.Requirements != "" {
		fmt.Fprintf(&b, "创作要求 / Requirements: %s\n", project.Requirements)
	}
	return b.String()
}

func buildIdeaPrompt(project *models.Project, count int, instructions string) string {
	if count < 1 {
		count = 5
	}
	if count > 20 {
		count = 20
	}

	extra := ""
	if instructions != "" {
		extra = "补充要求 / Extra notes:\n" + instructions + "\n\n"
	}

	return fmt.Sprintf(
		"请为下面的项目构思 %d 个故事创意。\n"+
			"Please pitch %d story premises for the project below.\n\n"+
			"%s\n%s"+
			"要求 / Requirements:\n"+
			"- 输出严格 JSON（不要额外解释）/ Output strict JSON only (no extra text)\n"+
			"- 每个创意一句话题目 + 两三句正文，突出冲突和反转\n"+
			"  One-line title plus a 2-3 sentence body per premise, built around conflict and reversal\n"+
			"- 创意之间题材方向要拉开差距 / Premises should differ clearly in direction\n\n"+
			"JSON schema:\n{\n  \"ideas\": [\n    {\"title\":\"...\",\"body\":\"...\"}\n  ]\n}\n",
		count,
		count,
		projectBrief(project),
		extra,
	)
}

func buildOutlinePrompt(project *models.Project, ideaJSON, instructions string) string {
	context := ""
	if ideaJSON != "" {
		context = "[idea_json]\n" + ideaJSON + "\n\n"
	}
	extra := ""
	if instructions != "" {
		extra = "补充要求 / Extra notes:\n" + instructions + "\n\n"
	}

	return fmt.Sprintf(
		"请根据选定的创意生成分幕大纲（偏关键点，不要急于完结）。\n"+
			"Please turn the selected premise into an act outline (key beats; do NOT rush the ending).\n\n"+
			"%s%s%s"+
			"要求 / Requirements:\n"+
			"- 输出严格 JSON（不要额外解释）/ Output strict JSON only (no extra text)\n"+
			"- 目标 4-6 幕，每幕 summary 一句话点出核心冲突\n"+
			"  Target 4-6 stages; each summary is ONE sentence naming the core conflict\n"+
			"- keyPoints 每幕 2-4 条，每条一句话，尽量短\n"+
			"  2-4 keyPoints per stage, one short sentence each\n\n"+
			"JSON schema:\n{\n  \"stages\": [\n    {\"stageNumber\":1,\"title\":\"...\",\"summary\":\"...\",\"keyPoints\":[\"...\"]}\n  ]\n}\n",
		projectBrief(project),
		context,
		extra,
	)
}

func buildEpisodePrompt(project *models.Project, outlineJSON string, episodeCount int, instructions string) string {
	if episodeCount < 1 {
		episodeCount = 12
	}
	if episodeCount > 200 {
		episodeCount = 200
	}

	context := ""
	if outlineJSON != "" {
		context = "[outline_json]\n" + outlineJSON + "\n\n"
	}
	extra := ""
	if instructions != "" {
		extra = "补充要求 / Extra notes:\n" + instructions + "\n\n"
	}

	return fmt.Sprintf(
		"请根据大纲生成 %d 集的分集梗概。\n"+
			"Please expand the outline into synopses for %d episodes.\n\n"+
			"%s%s%s"+
			"要求 / Requirements:\n"+
			"- 输出严格 JSON（不要额外解释）/ Output strict JSON only (no extra text)\n"+
			"- synopsis 两三句话讲清本集剧情推进 / A 2-3 sentence synopsis of what the episode advances\n"+
			"- keyEvents 每集 2-4 条关键事件 / 2-4 keyEvents per episode\n"+
			"- 每集 hook 一句话，留住观众进下一集 / Each hook is ONE sentence pulling viewers into the next episode\n"+
			"- 剧情推进按比例分布到 %d 集，不要前几集就收束主线\n"+
			"  Pace the arc proportionally across %d episodes; do NOT resolve the main line early\n\n"+
			"JSON schema:\n{\n  \"episodes\": [\n    {\"episodeNumber\":1,\"title\":\"...\",\"synopsis\":\"...\",\"keyEvents\":[\"...\"],\"hook\":\"...\"}\n  ]\n}\n",
		episodeCount,
		episodeCount,
		projectBrief(project),
		context,
		extra,
		episodeCount,
		episodeCount,
	)
}

func buildScriptPrompt(project *models.Project, episodeJSON string, episodeNumber int, instructions string) string {
	context := ""
	if episodeJSON != "" {
		context = "[episode_json]\n" + episodeJSON + "\n\n"
	}
	target := "请把选定的一集写成分场剧本。\nPlease write the selected episode as a scene-by-scene script.\n\n"
	if episodeNumber > 0 {
		target = fmt.Sprintf(
			"请把第 %d 集写成分场剧本。\nPlease write episode %d as a scene-by-scene script.\n\n",
			episodeNumber,
			episodeNumber,
		)
	}
	extra := ""
	if instructions != "" {
		extra = "补充要求 / Extra notes:\n" + instructions + "\n\n"
	}

	return target + projectBrief(project) + context + extra +
		"要求 / Requirements:\n" +
		"- 输出严格 JSON（不要额外解释）/ Output strict JSON only (no extra text)\n" +
		"- 每场 heading 用场景惯用格式（内/外景-地点-时间）\n" +
		"  Scene headings follow the usual INT/EXT-location-time form\n" +
		"- lines 里台词行带 speaker，动作行只填 direction\n" +
		"  Dialogue lines carry a speaker; action lines fill direction only\n" +
		"- 台词口语化、短句优先 / Dialogue stays colloquial, short lines first\n\n" +
		"JSON schema:\n{\n  \"scenes\": [\n    {\"sceneNumber\":1,\"heading\":\"...\",\"setting\":\"...\",\"lines\":[\n      {\"speaker\":\"...\",\"text\":\"...\"},\n      {\"direction\":\"...\"}\n    ]}\n  ]}\n}\n"
}

// buildRevisionPrompt 让模型在既有文档基础上输出修订后的完整内容，
// 差异由补丁层计算，模型不需要自己产出补丁
func buildRevisionPrompt(stage string, baseJSON, instructions string) string {
	schema := revisionSchemaHint(stage)

	return fmt.Sprintf(
		"下面是当前文档内容，请按修改意见输出修订后的完整 JSON。\n"+
			"Below is the current document. Apply the revision notes and output the COMPLETE revised JSON.\n\n"+
			"[current_json]\n%s\n\n"+
			"修改意见 / Revision notes:\n%s\n\n"+
			"要求 / Requirements:\n"+
			"- 输出严格 JSON（不要额外解释）/ Output strict JSON only (no extra text)\n"+
			"- 未被意见波及的条目保持原样输出，不要顺手改写\n"+
			"  Re-emit untouched entries verbatim; do not rewrite what the notes leave alone\n"+
			"- 保持原有的条目编号和排列顺序 / Keep the original numbering and ordering\n\n"+
			"%s",
		baseJSON,
		instructions,
		schema,
	)
}

func revisionSchemaHint(stage string) string {
	switch stage {
	case StageIdeas:
		return "JSON schema:\n{\n  \"ideas\": [\n    {\"title\":\"...\",\"body\":\"...\"}\n  ]\n}\n"
	case StageOutline:
		return "JSON schema:\n{\n  \"stages\": [\n    {\"stageNumber\":1,\"title\":\"...\",\"summary\":\"...\",\"keyPoints\":[\"...\"]}\n  ]\n}\n"
	case StageScript:
		return "JSON schema:\n{\n  \"scenes\": [\n    {\"sceneNumber\":1,\"heading\":\"...\",\"setting\":\"...\",\"lines\":[{\"speaker\":\"...\",\"text\":\"...\"}]}\n  ]\n}\n"
	default:
		return "JSON schema:\n{\n  \"episodes\": [\n    {\"episodeNumber\":1,\"title\":\"...\",\"synopsis\":\"...\",\"keyEvents\":[\"...\"],\"hook\":\"...\"}\n  ]\n}\n"
	}
}

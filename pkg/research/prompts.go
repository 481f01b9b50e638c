package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/types"
)

func systemPrompt() string {
	return fmt.Sprintf(`You are an expert researcher. Today is %s. Follow these instructions when responding:
- You may be asked to research subjects that are after your knowledge cutoff, assume the user is right when presented with news.
- The user is a highly experienced analyst, no need to simplify it, be as detailed as possible and make sure your response is correct.
- Be highly organized.
- Suggest solutions that the user did not think about.
- Be proactive and anticipate the user's needs.
- Treat the user as an expert in all subject matter.
- Mistakes erode trust, so be accurate and thorough.
- Provide detailed explanations, the user is comfortable with lots of detail.
- Value good arguments over authorities, the source is irrelevant.
- Consider new technologies and contrarian ideas, not just the conventional wisdom.
- You may use high levels of speculation or prediction, just flag it for the user.`, time.Now().Format(time.DateOnly))
}

const outputGuidelines = `<OutputGuidelines>
- Use Markdown headings (#, ##, ###) to structure the report.
- Use tables when comparing several items across the same attributes.
- Keep paragraphs focused; prefer lists for enumerations.
- Do not wrap the whole answer in a code block.
</OutputGuidelines>`

func languagePrompt(language string) string {
	if language != "" {
		return fmt.Sprintf("**Respond in %s**", language)
	}
	return "**Respond in the same language as the user's language**"
}

const serpQuerySchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "query": {"type": "string", "description": "The SERP query."},
      "researchGoal": {"type": "string", "description": "First talk about the goal of the research that this query is meant to accomplish, then go deeper into how to advance the research once the results are found, mention additional research directions. Be as specific as possible, especially for additional research directions. JSON reserved words should be escaped."}
    },
    "required": ["query", "researchGoal"]
  }
}`

func questionsPrompt(query string) string {
	return fmt.Sprintf(`Given the following query from the user, ask at least 5 follow-up questions to clarify the research direction:

<QUERY>
%s
</QUERY>

Questions need to be brief and concise. No need to output content that is irrelevant to the question.`, query)
}

func reportPlanPrompt(query string) string {
	return fmt.Sprintf(`Given the following query from the user:
<QUERY>
%s
</QUERY>

Generate a list of sections for the report based on the topic and feedback.
Your plan should be tight and focused with NO overlapping sections or unnecessary filler. Each section needs a sentence summarizing its content.

Integration guidelines:
<GUIDELINES>
- Ensure each section has a distinct purpose with no content overlap.
- Combine related concepts rather than separating them.
- CRITICAL: Every section MUST be directly relevant to the main topic.
- Avoid tangential or loosely related sections that don't directly address the core topic.
</GUIDELINES>

Before submitting, review your structure to ensure it has no redundant sections and follows a logical flow.`, query)
}

// composeQuery joins the topic, clarifying questions and feedback into the
// report-plan input.
func composeQuery(snap types.Snapshot) string {
	parts := []string{"Initial Query: " + snap.Question}
	if snap.Questions != "" {
		parts = append(parts, "Follow-up Questions: "+snap.Questions)
	}
	if snap.Feedback != "" {
		parts = append(parts, "Follow-up Feedback: "+snap.Feedback)
	}
	return strings.Join(parts, "\n\n")
}

func serpQueriesPrompt(plan string) string {
	return fmt.Sprintf(`This is the report plan after user confirmation:
<PLAN>
%s
</PLAN>

Based on previous report plan, generate a list of SERP queries to further research the topic. Make sure each query is unique and not similar to each other.

You MUST respond in **JSON** matching this **JSON schema**:

`+"```json\n%s\n```"+`

Expected output:

`+"```json\n"+`[{"query": "This is a sample query.", "researchGoal": "This is the reason for the query."}]
`+"```", plan, serpQuerySchema)
}

func processResultPrompt(query, goal string) string {
	return fmt.Sprintf(`Please use the following query to get the latest information via the web:
<QUERY>
%s
</QUERY>

You need to organize the searched information according to the following requirements:
<RESEARCH_GOAL>
%s
</RESEARCH_GOAL>

You need to think like a human researcher.
Generate a list of learnings from the search results.
Make sure each learning is unique and not similar to each other.
The learnings should be to the point, as detailed and information dense as possible.
Make sure to include any entities like people, places, companies, products, things, etc in the learnings, as well as any specific entities, metrics, numbers, and dates when available. The learnings will be used to research the topic further.`, query, goal)
}

func processSearchResultPrompt(query, goal string, sources []types.Source, citations bool) string {
	var ctx strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&ctx, "<content index=\"%d\" url=\"%s\">\n%s\n</content>\n\n", i+1, s.URL, s.Content)
	}
	citeRule := ""
	if citations {
		citeRule = "\nCite the context with its index, like [1], at the end of each sentence that uses it. Use multiple indices like [1][2] when needed.\n"
	}
	return fmt.Sprintf(`Given the following contexts from a SERP search for the query:
<QUERY>
%s
</QUERY>

You need to organize the searched information according to the following requirements:
<RESEARCH_GOAL>
%s
</RESEARCH_GOAL>

The following context from the SERP search:
<CONTEXT>
%s</CONTEXT>
%s
You need to think like a human researcher.
Generate a list of learnings from the contexts.
Make sure each learning is unique and not similar to each other.
The learnings should be to the point, as detailed and information dense as possible.
Make sure to include any entities like people, places, companies, products, things, etc in the learnings, as well as any specific entities, metrics, numbers, and dates when available.`, query, goal, ctx.String(), citeRule)
}

func processKnowledgePrompt(query, goal, knowledge string) string {
	return fmt.Sprintf(`Given the following contents from a local knowledge base search for the query:
<QUERY>
%s
</QUERY>

You need to organize the searched information according to the following requirements:
<RESEARCH_GOAL>
%s
</RESEARCH_GOAL>

The following contexts from the local knowledge base:
<CONTEXT>
%s
</CONTEXT>

You need to think like a human researcher.
Generate a list of learnings from the contents.
Make sure each learning is unique and not similar to each other.
The learnings should be to the point, as detailed and information dense as possible.`, query, goal, knowledge)
}

func reviewPrompt(plan string, learnings []string, suggestion string) string {
	var b strings.Builder
	for _, l := range learnings {
		fmt.Fprintf(&b, "<learning>\n%s\n</learning>\n", l)
	}
	suggestionBlock := ""
	if suggestion != "" {
		suggestionBlock = fmt.Sprintf("\nThis is the user's suggestion for research direction:\n<SUGGESTION>\n%s\n</SUGGESTION>\n", suggestion)
	}
	return fmt.Sprintf(`This is the report plan after user confirmation:
<PLAN>
%s
</PLAN>

Here are all the learnings from previous research:
<LEARNINGS>
%s</LEARNINGS>
%s
Based on previous research and user research suggestions, determine whether further research is needed.
If further research is needed, list of follow-up SERP queries to research the topic further.
Make sure each query is unique and not similar to each other.
If you believe no further research is needed, you can output an empty queries.

You MUST respond in **JSON** matching this **JSON schema**:

`+"```json\n%s\n```", plan, b.String(), suggestionBlock, serpQuerySchema)
}

func finalReportPrompt(plan string, learnings []string, sources []types.Source, images []types.ImageSource, requirement string, citeImages, citeSources bool) string {
	var b strings.Builder
	for _, l := range learnings {
		fmt.Fprintf(&b, "<learning>\n%s\n</learning>\n", l)
	}

	var extra strings.Builder
	if citeSources && len(sources) > 0 {
		refs := make([]map[string]string, 0, len(sources))
		for _, s := range sources {
			refs = append(refs, map[string]string{"url": s.URL, "title": s.Title})
		}
		data, _ := json.Marshal(refs)
		fmt.Fprintf(&extra, "\nHere is a list of sources, numbered from 1 in order:\n<SOURCES>\n%s\n</SOURCES>\n", data)
		extra.WriteString("Cite sources inline as [n] where n is the source number. Do not write a reference list at the end; it is added automatically.\n")
	}
	if citeImages && len(images) > 0 {
		data, _ := json.Marshal(images)
		fmt.Fprintf(&extra, "\nHere is a list of images found during research:\n<IMAGES>\n%s\n</IMAGES>\n", data)
		extra.WriteString("These images are shown in a gallery after the report; refer to them in the text where relevant.\n")
	}
	if requirement != "" {
		fmt.Fprintf(&extra, "\nPlease write according to the user's writing requirements:\n<REQUIREMENT>\n%s\n</REQUIREMENT>\n", requirement)
	}

	return fmt.Sprintf(`This is the report plan after user confirmation:
<PLAN>
%s
</PLAN>

Here are all the learnings from previous research:
<LEARNINGS>
%s</LEARNINGS>
%s
Write a final report based on the report plan using the learnings from research.
Make it as detailed as possible, aim for 5 pages or more, the more the better, include ALL the learnings from research.
**Respond only the final report content, and no additional text before or after.**`, plan, b.String(), extra.String())
}

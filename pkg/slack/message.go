package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// BuildAwaitingInputMessage creates Block Kit blocks for an agent
// entering AwaitingInput — the question (or the generic "waiting for
// input" placeholder) plus a link to the agent's card in the dashboard.
func BuildAwaitingInputMessage(agentID, projectName, instruction, questionText, dashboardURL string) []goslack.Block {
	header := fmt.Sprintf(":raising_hand: *%s* is waiting for your input", projectName)
	if projectName == "" {
		header = ":raising_hand: An agent is waiting for your input"
	}

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
		nil, nil,
	))

	if instruction != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Task:*\n%s", truncateForSlack(instruction)), false, false),
			nil, nil,
		))
	}

	question := questionText
	if question == "" {
		question = "Claude is waiting for your input"
	}
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Question:*\n%s", truncateForSlack(question)), false, false),
		nil, nil,
	))

	if dashboardURL != "" {
		url := fmt.Sprintf("%s/agents/%s", dashboardURL, agentID)
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Agent", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}

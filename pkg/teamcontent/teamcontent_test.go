package teamcontent

import "testing"

func TestIsInternal_DetectsTaskNotificationXML(t *testing.T) {
	if !IsInternal("<task-notification>agent finished</task-notification>") {
		t.Error("expected leading task-notification tag to be flagged internal")
	}
}

func TestIsInternal_IgnoresTagsDiscussedMidText(t *testing.T) {
	text := "I noticed the `<task-notification>` tag appears in the logs"
	if IsInternal(text) {
		t.Error("expected mid-text mention of the tag to NOT be flagged internal")
	}
}

func TestIsInternal_DetectsSendMessageJSON(t *testing.T) {
	msg := `{"type": "message", "recipient": "worker", "content": "start task 1"}`
	if !IsInternal(msg) {
		t.Error("expected SendMessage-shaped JSON with a recipient to be flagged internal")
	}
}

func TestIsInternal_RequiresRecipientForMessageType(t *testing.T) {
	msg := `{"type": "message", "content": "no recipient field"}`
	if IsInternal(msg) {
		t.Error("expected message without a recipient field to NOT be flagged internal")
	}
}

func TestIsInternal_DetectsShutdownRequest(t *testing.T) {
	msg := `{"type": "shutdown_request", "reason": "done"}`
	if !IsInternal(msg) {
		t.Error("expected shutdown_request to be flagged internal")
	}
}

func TestIsInternal_IgnoresPlainUserText(t *testing.T) {
	text := "please fix the type: message bug in the parser"
	if IsInternal(text) {
		t.Error("expected plain prose mentioning these words to NOT be flagged internal")
	}
}

func TestIsInternal_IgnoresEmptyText(t *testing.T) {
	if IsInternal("") || IsInternal("   ") {
		t.Error("expected empty/whitespace text to never be flagged internal")
	}
}

func TestIsInternal_IgnoresInvalidJSON(t *testing.T) {
	text := `{"type": "message", "recipient": }`
	if IsInternal(text) {
		t.Error("expected malformed JSON to NOT be flagged internal")
	}
}

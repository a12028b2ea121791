package composer

import (
	"fmt"
	"strings"

	"github.com/mailpilot/mailpilot/internal/model"
)

const systemPrompt = `You are a professional email copywriter. Your job is to write personalized,
professional outreach emails.

Rules:
- Keep emails concise (150-250 words max)
- Use a professional but warm tone
- Personalize using the recipient's name, company, and any other provided details
- Include a clear call to action
- Do NOT use spammy language, excessive exclamation marks, or ALL CAPS
- Do NOT include placeholder text like [Your Name]; use the actual sender name provided
- Do NOT include a sign-off like "Best regards" or the sender's name at the end; it is added automatically
- End the email body with your last paragraph content only (no closing or signature)

You MUST respond with valid JSON in this exact format:
{"subject": "Email subject line here", "body": "Email body here"}

The body should be plain text with line breaks (use \n for new lines).
Do not include any markdown formatting in the body.`

// Identity names who the generated mail is written on behalf of
type Identity struct {
	SenderName  string
	CompanyName string
}

// recipientContext renders personalization fields as "- key: value" lines
// in sorted key order.
func recipientContext(r model.Recipient) string {
	ctx := r.Context()
	var b strings.Builder
	for i, k := range r.ContextKeys() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", k, ctx[k])
	}
	return b.String()
}

func userPrompt(r model.Recipient, purpose string, id Identity) string {
	return fmt.Sprintf(`Write a professional email for the following recipient:

%s

SENDER INFORMATION (use this in the email, NOT placeholders):
- Sender Name: %s
- Sender Company: %s

Purpose of this email: %s

IMPORTANT: Use the actual sender name %q and company %q in the email. Do NOT use placeholders like [Your Name] or [Your Company].

Respond with JSON only: {"subject": "...", "body": "..."}`,
		recipientContext(r), id.SenderName, id.CompanyName, purpose, id.SenderName, id.CompanyName)
}

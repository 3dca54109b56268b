package email

import "github.com/flexprice/dunning/internal/types"

const templateLayout = `<!DOCTYPE html>
<html>
<head>
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
    <title>{{.subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">
{{template "content" .}}
    <p>If you have any questions, visit <a href="{{.support_url}}">{{.support_url}}</a>.</p>
</body>
</html>`

// emailTemplates holds the body of every dunning email keyed by type. Each
// body is rendered inside templateLayout.
var emailTemplates = map[types.DunningEmailType]string{
	types.DunningEmailTypeFirstFailure: `{{define "content"}}
    <p>Hi,</p>
    <p>We could not collect the payment of <strong>{{.amount}} {{.currency}}</strong> for invoice {{.invoice_number}}.{{if .error_message}} Your bank said: {{.error_message}}.{{end}}</p>
    <p>We will try again on {{.next_retry_at}}. Please make sure your payment method is up to date.</p>
{{end}}`,

	types.DunningEmailTypeRetryFailure: `{{define "content"}}
    <p>Hi,</p>
    <p>Our payment attempt #{{.attempt_number}} of <strong>{{.amount}} {{.currency}}</strong> for invoice {{.invoice_number}} failed{{if .error_code}} ({{.error_code}}){{end}}.</p>
    <p>The next attempt is scheduled for {{.next_retry_at}}.</p>
{{end}}`,

	types.DunningEmailTypeFinalNotice: `{{define "content"}}
    <p>Hi,</p>
    <p>This is a final notice for invoice {{.invoice_number}} of <strong>{{.amount}} {{.currency}}</strong>.</p>
    <p>We will make one last attempt on {{.next_retry_at}}. If it fails your subscription will be cancelled.</p>
{{end}}`,

	types.DunningEmailTypeCancellationNotice: `{{define "content"}}
    <p>Hi,</p>
    <p>We were unable to collect <strong>{{.amount}} {{.currency}}</strong> for invoice {{.invoice_number}} and your subscription has been cancelled.</p>
    <p>You can resubscribe at any time once your payment details are updated.</p>
{{end}}`,

	types.DunningEmailTypePaymentRecovered: `{{define "content"}}
    <p>Hi,</p>
    <p>Good news: your payment of <strong>{{.amount}} {{.currency}}</strong> for invoice {{.invoice_number}} went through and your subscription is active again.</p>
{{end}}`,
}

var emailSubjects = map[types.DunningEmailType]string{
	types.DunningEmailTypeFirstFailure:       "Your payment failed",
	types.DunningEmailTypeRetryFailure:       "We still could not collect your payment",
	types.DunningEmailTypeFinalNotice:        "Final notice: action required on your subscription",
	types.DunningEmailTypeCancellationNotice: "Your subscription has been cancelled",
	types.DunningEmailTypePaymentRecovered:   "Your payment was successful",
}

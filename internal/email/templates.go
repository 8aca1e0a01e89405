package email

import (
	"fmt"
	"html"
	"time"
)

// layoutHTML wraps body in the shared card layout
func layoutHTML(title, appName, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>%s</title>
</head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background-color:#f4f5f7;">
<table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#f4f5f7;padding:40px 0;">
<tr><td align="center">
<table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;overflow:hidden;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
  <tr><td style="padding:32px 40px 24px;text-align:center;">
    <h1 style="margin:0;font-size:24px;color:#1a1a2e;">%s</h1>
  </td></tr>
  %s
  <tr><td style="padding:16px 40px;background-color:#f9f9fc;border-top:1px solid #eeeef2;">
    <p style="margin:0;font-size:12px;color:#aaaabc;text-align:center;">
      &copy; %s. This is an automated message, please do not reply.
    </p>
  </td></tr>
</table>
</td></tr>
</table>
</body>
</html>`, html.EscapeString(title), html.EscapeString(title), body, html.EscapeString(appName))
}

func paragraphHTML(text string) string {
	return fmt.Sprintf(`<tr><td style="padding:0 40px 24px;">
    <p style="margin:0;font-size:15px;color:#4a4a68;line-height:1.6;">%s</p>
  </td></tr>`, text)
}

// ResetLinkEmail builds the message carrying the challenge link. The link
// holds the only copy of the token, so it is never logged.
func ResetLinkEmail(to, appName, link string, expiresAt time.Time) Message {
	expiry := expiresAt.UTC().Format("Jan 2, 2006 15:04 MST")
	button := fmt.Sprintf(`<tr><td style="padding:0 40px 24px;text-align:center;">
    <a href="%s" style="display:inline-block;background-color:#6c63ff;color:#ffffff;text-decoration:none;border-radius:6px;padding:12px 28px;font-size:15px;">Answer security question</a>
  </td></tr>`, html.EscapeString(link))

	body := paragraphHTML(fmt.Sprintf("A request to reset the two-step verification device on your <strong>%s</strong> account was approved. Answer your security question to finish.", html.EscapeString(appName))) +
		button +
		paragraphHTML(fmt.Sprintf("This link expires on <strong>%s</strong>. If you did not ask for this, open the link and report it so we can protect your account.", expiry))

	text := fmt.Sprintf(`Reset your two-step verification device

A request to reset the two-step verification device on your %s account was approved.
Answer your security question to finish:

%s

This link expires on %s. If you did not ask for this, open the link and report it so we can protect your account.

- %s`, appName, link, expiry, appName)

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("%s: reset your two-step verification device", appName),
		HTMLBody: layoutHTML("Reset your device", appName, body),
		TextBody: text,
	}
}

// DeviceResetEmail confirms that the second factor was removed
func DeviceResetEmail(to, appName string) Message {
	body := paragraphHTML(fmt.Sprintf("The two-step verification device on your <strong>%s</strong> account was removed after your security question was answered. You will be asked to set up a new device at your next sign-in.", html.EscapeString(appName))) +
		paragraphHTML("If this was not you, contact support immediately.")

	text := fmt.Sprintf(`Your two-step verification device was reset

The two-step verification device on your %s account was removed after your security question was answered.
You will be asked to set up a new device at your next sign-in.

If this was not you, contact support immediately.

- %s`, appName, appName)

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("%s: two-step verification device reset", appName),
		HTMLBody: layoutHTML("Device reset", appName, body),
		TextBody: text,
	}
}

// FraudReportEmail acknowledges a fraud report made by the account owner
func FraudReportEmail(to, appName string) Message {
	body := paragraphHTML("Thanks for letting us know. The device reset request was blocked and every device signed in to your account was signed out.") +
		paragraphHTML("We recommend changing your password and reviewing your recent activity.")

	text := fmt.Sprintf(`We blocked a device reset on your account

Thanks for letting us know. The device reset request was blocked and every device signed in to your account was signed out.
We recommend changing your password and reviewing your recent activity.

- %s`, appName)

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("%s: device reset blocked", appName),
		HTMLBody: layoutHTML("Device reset blocked", appName, body),
		TextBody: text,
	}
}

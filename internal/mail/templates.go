package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
)

var (
	verificationTemplate = template.Must(template.New("verification").Parse(`
<div style="max-width: 600px; margin: 0 auto; font-family: Arial, sans-serif;">
  <h2>Welcome to Finora, {{.Name}}!</h2>
  <p>Thank you for signing up. Please verify your email address to complete your registration.</p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="{{.Link}}" style="background-color: #007bff; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Verify Email Address</a>
  </div>
  <p>Or copy and paste this link in your browser:</p>
  <p style="word-break: break-all; color: #666;">{{.Link}}</p>
  <p style="color: #666; font-size: 12px;">This link will expire in 24 hours.</p>
</div>`))

	resetTemplate = template.Must(template.New("reset").Parse(`
<div style="max-width: 600px; margin: 0 auto; font-family: Arial, sans-serif;">
  <h2>Password Reset Request</h2>
  <p>Hi {{.Name}},</p>
  <p>You requested to reset your password. Click the button below to reset it:</p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="{{.Link}}" style="background-color: #dc3545; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Reset Password</a>
  </div>
  <p>Or copy and paste this link in your browser:</p>
  <p style="word-break: break-all; color: #666;">{{.Link}}</p>
  <p style="color: #666; font-size: 12px;">This link will expire in 1 hour.</p>
  <p style="color: #666; font-size: 12px;">If you didn't request this, please ignore this email.</p>
</div>`))

	welcomeTemplate = template.Must(template.New("welcome").Parse(`
<div style="max-width: 600px; margin: 0 auto; font-family: Arial, sans-serif;">
  <h2>Welcome aboard, {{.Name}}!</h2>
  <p>Your email has been verified successfully. You're all set to start managing your finances with Finora.</p>
  <div style="text-align: center; margin: 30px 0;">
    <a href="{{.Link}}" style="background-color: #28a745; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Go to Dashboard</a>
  </div>
  <p>Happy tracking!</p>
  <p>The Finora Team</p>
</div>`))
)

type templateData struct {
	Name string
	Link string
}

// Composer renders the account emails with links into the API and web client.
type Composer struct {
	serverURL string
	clientURL string
}

func NewComposer(serverURL, clientURL string) Composer {
	return Composer{serverURL: serverURL, clientURL: clientURL}
}

func (c Composer) Verification(email, name, token string) (Message, error) {
	link := c.serverURL + "/api/auth/verify-email?token=" + url.QueryEscape(token)
	return render(verificationTemplate, email, "Verify Your Email Address", templateData{Name: name, Link: link})
}

func (c Composer) PasswordReset(email, name, token string) (Message, error) {
	link := c.clientURL + "/auth/reset-password?token=" + url.QueryEscape(token)
	return render(resetTemplate, email, "Reset Your Password", templateData{Name: name, Link: link})
}

func (c Composer) Welcome(email, name string) (Message, error) {
	return render(welcomeTemplate, email, "Welcome to Finora!", templateData{Name: name, Link: c.clientURL + "/dashboard"})
}

func render(tmpl *template.Template, to, subject string, data templateData) (Message, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s email: %w", tmpl.Name(), err)
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}

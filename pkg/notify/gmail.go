package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"golang.org/x/oauth2"
)

const (
	GmailSendURL   = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"
	GoogleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL = "https://oauth2.googleapis.com/token"
)

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	From         string

	// TokenURL and SendURL default to Google's endpoints.
	TokenURL string
	SendURL  string
}

// GmailMailer sends HTML mail through the Gmail API using a long-lived refresh token.
type GmailMailer struct {
	from    string
	sendURL string
	client  *http.Client
}

func NewGmailMailer(ctx context.Context, cfg GmailConfig) (*GmailMailer, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("gmail client id, secret and refresh token are required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = GoogleTokenURL
	}
	if cfg.SendURL == "" {
		cfg.SendURL = GmailSendURL
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  GoogleAuthURL,
			TokenURL: cfg.TokenURL,
		},
		Scopes: []string{"https://www.googleapis.com/auth/gmail.send"},
	}

	return &GmailMailer{
		from:    cfg.From,
		sendURL: cfg.SendURL,
		client:  oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}),
	}, nil
}

func (g *GmailMailer) Send(ctx context.Context, msg *Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient email is required")
	}

	raw, err := buildMIME(g.from, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	body, err := json.Marshal(map[string]string{"raw": base64.RawURLEncoding.EncodeToString(raw)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gmail returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

func buildMIME(from string, msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: IoT Dashboard <%s>\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/html; charset="UTF-8"`},
	})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(msg.HTML)); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("application/octet-stream; name=%q", a.Filename)},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", a.Filename)},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(a.Data)
		for len(encoded) > 76 {
			if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
				return nil, err
			}
			encoded = encoded[76:]
		}
		if _, err := part.Write([]byte(encoded)); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package cli

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	skahactx "skaha/internal/context"
	"skaha/internal/credential"
)

// NewTable returns a table writer in the CLI house style.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatUpper
	return t
}

// RenderContexts prints one row per context, marking the active one.
func RenderContexts(w io.Writer, contexts []skahactx.Context, active string, now time.Time) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"", "Name", "Server", "Auth", "Status", "Expires"})
	for _, c := range contexts {
		marker := ""
		if c.Name == active {
			marker = text.FgGreen.Sprint("*")
		}
		t.AppendRow(table.Row{marker, c.Name, c.Server.URL, c.Kind().Describe(), CredentialStatus(c.Credential, now), FormatExpiry(c.Credential, now)})
	}
	t.Render()
}

// RenderContext prints the details of a single context. Secrets are only
// ever shown through credential.Redact.
func RenderContext(w io.Writer, c skahactx.Context, active bool, now time.Time) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Context", c.Name},
		{"Active", active},
		{"Server", c.Server.Name},
		{"URL", c.Server.URL},
		{"API version", c.Server.APIVersion()},
		{"Auth", c.Kind().Describe()},
		{"Status", CredentialStatus(c.Credential, now)},
		{"Expires", FormatExpiry(c.Credential, now)},
		{"Credential", credential.Redact(c.Credential)},
	})
	if o, ok := c.Credential.(credential.OIDC); ok {
		if o.Username != "" {
			t.AppendRow(table.Row{"Username", o.Username})
		}
		refresh := text.FgYellow.Sprint("not available")
		if o.CanRefresh(now) {
			refresh = text.FgGreen.Sprint("available")
		}
		t.AppendRow(table.Row{"Refresh", refresh})
	}
	t.Render()
}

// CredentialStatus is a colored one-word state for c.
func CredentialStatus(c credential.Credential, now time.Time) string {
	if c == nil || c.Kind() == credential.KindNone {
		return text.FgHiBlack.Sprint("not authenticated")
	}
	if o, ok := c.(credential.OIDC); ok && o.ExpiredAt(now) && o.CanRefresh(now) {
		return text.FgYellow.Sprint("refreshable")
	}
	if credential.IsExpired(c, now) {
		return text.FgRed.Sprint("expired")
	}
	return text.FgGreen.Sprint("valid")
}

// FormatExpiry describes when c expires relative to now.
func FormatExpiry(c credential.Credential, now time.Time) string {
	if c == nil {
		return "-"
	}
	expiry, ok := credential.Expiry(c)
	if !ok {
		return "-"
	}
	d := expiry.Sub(now).Round(time.Second)
	if d <= 0 {
		return expiry.UTC().Format(time.RFC3339) + " (past)"
	}
	return expiry.UTC().Format(time.RFC3339) + " (in " + d.String() + ")"
}

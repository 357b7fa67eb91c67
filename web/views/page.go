// Package views renders the chat client page.
package views

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"multichat/web/types"

	"github.com/a-h/templ"
)

//go:embed static
var static embed.FS

// Static returns the page assets, rooted so that "app.js" is at the top.
func Static() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

func esc(s string) string { return templ.EscapeString(s) }

// Page is the full document around App.
func Page(view types.StateView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Multi Chat</title>
<link rel="stylesheet" href="/static/app.css">
</head>
<body>
<main id="app">`); err != nil {
			return err
		}
		if err := App(view).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main>
<script src="/static/app.js"></script>
</body>
</html>`)
		return err
	})
}

// App renders tabs, the active transcript and the composer.
func App(view types.StateView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		writeHeader(&b, view)
		writeTabs(&b, view)
		if view.Error != "" {
			fmt.Fprintf(&b, `<div class="error" role="alert"><span>%s</span><button type="button" data-action="dismiss">×</button></div>`, esc(view.Error))
		}
		writeTranscript(&b, view)
		writeComposer(&b, view)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeHeader(b *strings.Builder, view types.StateView) {
	// model and tab changes stay available while a reply is pending
	b.WriteString(`<header class="toolbar"><select name="model" data-action="model">`)
	for _, m := range view.Models {
		selected := ""
		if m.ID == view.Composer.ModelID {
			selected = " selected"
		}
		label := m.Label
		if m.SupportsImage {
			label += " (vision)"
		}
		fmt.Fprintf(b, `<option value="%s"%s>%s</option>`, esc(m.ID), selected, esc(label))
	}
	b.WriteString(`</select><button type="button" data-action="create"`)
	if !view.CanCreate {
		b.WriteString(` disabled title="You can open at most 5 chats."`)
	}
	b.WriteString(`>New chat</button></header>`)
}

func writeTabs(b *strings.Builder, view types.StateView) {
	b.WriteString(`<nav class="tabs">`)
	for _, s := range view.Sessions {
		class := "tab"
		if s.Active {
			class += " active"
		}
		fmt.Fprintf(b, `<button type="button" class="%s" data-action="select" data-id="%s" title="%s">%s</button>`,
			class, esc(s.ID), esc(s.ModelLabel), esc(s.Title))
	}
	b.WriteString(`</nav>`)
}

func writeTranscript(b *strings.Builder, view types.StateView) {
	active, ok := view.Active()
	if !ok {
		b.WriteString(`<section class="transcript empty"><p>Create a chat to start.</p></section>`)
		return
	}

	fmt.Fprintf(b, `<section class="transcript" data-session="%s">`, esc(active.ID))
	for _, m := range active.Messages {
		switch m.Role {
		case "user":
			b.WriteString(`<article class="message user"><div class="author">You</div>`)
			if m.Attachment != nil {
				fmt.Fprintf(b, `<img class="preview" src="%s" alt="%s">`, esc(m.Attachment.DataURL), esc(m.Attachment.Alt))
			}
			fmt.Fprintf(b, `<div class="body">%s</div></article>`, esc(m.Text))
		default:
			fmt.Fprintf(b, `<article class="message bot"><div class="author">%s</div>`, esc(m.ModelLabel))
			if m.HTML != "" {
				fmt.Fprintf(b, `<div class="body markdown">%s</div></article>`, m.HTML)
			} else {
				fmt.Fprintf(b, `<div class="body">%s</div></article>`, esc(m.Text))
			}
		}
	}
	if view.Sending {
		b.WriteString(`<div class="typing">Waiting for reply…</div>`)
	}
	b.WriteString(`</section>`)
}

func writeComposer(b *strings.Builder, view types.StateView) {
	b.WriteString(`<form class="composer" data-action="send">`)
	if a := view.Composer.Attachment; a != nil {
		fmt.Fprintf(b, `<div class="pending"><img src="%s" alt="%s"><span>%s</span><button type="button" data-action="detach">Remove</button></div>`,
			esc(a.Preview), esc(a.FileName), esc(a.FileName))
	}
	fmt.Fprintf(b, `<textarea name="text" data-action="text" placeholder="Type a message">%s</textarea>`, esc(view.Composer.Text))
	if view.Composer.CanAttachImage {
		b.WriteString(`<label class="attach">Image<input type="file" name="file" accept="image/*" data-action="attach"></label>`)
	}
	b.WriteString(`<button type="submit"`)
	if view.Sending || view.ActiveID == "" {
		b.WriteString(` disabled`)
	}
	b.WriteString(`>Send</button></form>`)
}

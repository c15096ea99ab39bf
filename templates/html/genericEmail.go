package templates

import (
	"fmt"
	"html"
	"strings"
)

// RenderGenericEmail wraps plain-text body content in the SwiftHaul mail
// layout. The body is HTML-escaped and newlines become <br> tags, so callers
// can compose messages as plain strings.
func RenderGenericEmail(subject, bodyContent string) string {
	safeSubject := html.EscapeString(subject)
	htmlBody := strings.ReplaceAll(html.EscapeString(bodyContent), "\n", "<br>")

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
  <style type="text/css">
    body { font-family: -apple-system, 'Helvetica Neue', Arial, sans-serif; margin: 0; padding: 0; background-color: #f3f4f6; }
    .wrapper { padding: 24px 12px; }
    .card { max-width: 560px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; border: 1px solid #e5e7eb; }
    .brand { padding: 18px 28px; background-color: #0f172a; }
    .brand span { color: #f97316; font-size: 18px; font-weight: 700; letter-spacing: 0.5px; }
    .banner { background-color: #1e293b; padding: 28px; }
    .banner h1 { color: #f8fafc; margin: 0; font-size: 20px; font-weight: 600; }
    .body { padding: 28px; color: #334155; line-height: 1.65; font-size: 15px; }
    .footnote { padding: 20px 28px; color: #94a3b8; font-size: 12px; background-color: #f8fafc; border-top: 1px solid #e5e7eb; }
    .footnote a { color: #f97316; text-decoration: none; }
  </style>
</head>
<body>
  <div class="wrapper">
    <div class="card">
      <div class="brand"><span>SwiftHaul</span></div>
      <div class="banner">
        <h1>%s</h1>
      </div>
      <div class="body">
        %s
      </div>
      <div class="footnote">
        <p>You are receiving this because of activity on your SwiftHaul account.</p>
        <p>&copy; SwiftHaul Logistics &middot; <a href="https://www.swifthaul.app">swifthaul.app</a> &middot; <a href="https://www.swifthaul.app/support">Support</a></p>
      </div>
    </div>
  </div>
</body>
</html>`, safeSubject, safeSubject, htmlBody)
}

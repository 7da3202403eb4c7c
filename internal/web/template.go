package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/busy-indicator/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"state": status.StateString,
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Busy Indicator</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.shown { color: green; font-weight: bold; }
.hidden { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Busy Indicator</h1>

<h2>Indicator</h2>
<table>
<tr><th>Indicator</th><td id="indicator-state" class="{{if .Indicator.Rendered}}shown{{else}}hidden{{end}}">{{state .Indicator.Rendered}}</td></tr>
<tr><th>Busy signal</th><td>{{if .Indicator.Desired}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Show pending</th><td>{{yesno .Indicator.ShowTimerPending}}</td></tr>
<tr><th>Hide pending</th><td>{{yesno .Indicator.HideTimerPending}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Shown</th><td>{{.Counts.Shown}}</td></tr>
<tr><th>Hidden</th><td>{{.Counts.Hidden}}</td></tr>
<tr><th>Suppressed</th><td>{{.Counts.Suppressed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Show delay</th><td>{{.Config.ShowDelayMs}}ms</td></tr>
<tr><th>Hide minimum</th><td>{{.Config.HideMinMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}

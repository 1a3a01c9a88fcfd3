package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/air-sensor/internal/status"
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
	"levelOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"levelClass": func(s string) string {
		if s == "" {
			return "unknown"
		}
		return strings.ToLower(s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="30">
<title>{{if .Config.DeviceName}}{{.Config.DeviceName}}{{else}}Air Sensor{{end}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.good { color: green; font-weight: bold; }
.moderate { color: #b8a000; font-weight: bold; }
.unhealthy_sensitive { color: orange; font-weight: bold; }
.unhealthy, .very_unhealthy, .hazardous { color: red; font-weight: bold; }
.unknown { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.err { color: red; }
</style>
</head>
<body>
<h1>{{if .Config.DeviceName}}{{.Config.DeviceName}}{{else}}Air Sensor{{end}}</h1>

<h2>Air Quality</h2>
<table>
<tr><th>Level</th><td id="level" class="{{levelClass (printf "%s" .Level)}}">{{levelOrUnknown (printf "%s" .Level)}}</td></tr>
{{with .Latest}}<tr><th>AQI</th><td>{{.AQI}}</td></tr>
<tr><th>PM1.0</th><td>{{.PM1}} µg/m³</td></tr>
<tr><th>PM2.5</th><td>{{.PM25}} µg/m³</td></tr>
<tr><th>PM10</th><td>{{.PM10}} µg/m³</td></tr>
<tr><th>Battery</th><td>{{.Battery}}%</td></tr>
<tr><th>Sampled</th><td>{{.Time.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="err">{{.LastError}}</td></tr>{{end}}
</table>

<h2>Storage</h2>
<table>
<tr><th>Backend</th><td>{{.Storage.Active}}</td></tr>
<tr><th>Records</th><td>{{.Storage.Retained}} / {{.Storage.Capacity}}</td></tr>
<tr><th>Write index</th><td>{{.Storage.WriteIndex}}</td></tr>
<tr><th>Health</th><td>{{.Storage.Health}}</td></tr>
<tr><th>Logged / dropped</th><td>{{.Storage.Logged}} / {{.Storage.Dropped}}</td></tr>
<tr><th>Clock</th><td>{{.ClockState}}</td></tr>
</table>

<h2>Radio</h2>
<table>
<tr><th>Link</th><td>{{.Radio.Link}}</td></tr>
<tr><th>State</th><td class="{{if .Radio.Connected}}connected{{else}}disconnected{{end}}">{{.Radio.State}}</td></tr>
<tr><th>Live / chunks sent</th><td>{{.Radio.LiveSent}} / {{.Radio.ChunksSent}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sample interval</th><td>{{.Config.SampleMs}}ms ({{.Config.PowerMode}})</td></tr>
<tr><th>Deep interval</th><td>{{.Config.DeepMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}

package strategy

// 内置策略键。
const (
	KeyFontCDN   = "font-cdn"
	KeyScriptCDN = "script-cdn"
	KeyGeneric   = "generic"
)

func init() {
	MustRegister(Profile{
		Key:          KeyFontCDN,
		Description:  "Web font stylesheets and binaries, cache-first without offline fallback",
		DefaultHosts: []string{"fonts.googleapis.com", "fonts.gstatic.com"},
		Priority:     10,
		GuardName:    "ok",
		Guard:        GuardOK,
	})
	MustRegister(Profile{
		Key:          KeyScriptCDN,
		Description:  "Pinned third-party scripts, cache-first without offline fallback",
		DefaultHosts: []string{"cdnjs.cloudflare.com"},
		Priority:     20,
		GuardName:    "ok",
		Guard:        GuardOK,
	})
	MustRegister(Profile{
		Key:             KeyGeneric,
		Description:     "Everything else, cache-first with offline document fallback",
		Priority:        100,
		OfflineFallback: true,
		GuardName:       "basic-200",
		Guard:           GuardBasic200,
	})
}

// 版本信息，构建时通过 -ldflags 注入 BuildTime/GitCommit/GoVersion
package version

var (
	Version    = "1.0.0"
	APIVersion = "1.0"
	BuildTime  string
	GitCommit  string
	GoVersion  string
)

func GetVersion() string {
	return Version
}

// GetUserAgent 外发 HTTP 请求使用的 UA
func GetUserAgent() string {
	return "NeoAudit/" + Version
}

package easyfetch

import (
	"log/slog"
	"time"

	"github.com/creasty/defaults"
	"github.com/taodev/easyfetch/internal/agent"
	"github.com/taodev/easyfetch/internal/cache"
	"github.com/taodev/easyfetch/internal/rewrite"
	"github.com/taodev/easyfetch/internal/route"
)

type Options struct {
	LogLevel string `yaml:"log-level" default:"info"`
	// 未显式设置 DNSCaching 的请求是否使用 DNS 缓存
	DNSCaching bool `yaml:"dns-caching" default:"true"`
	// 默认请求超时，0 表示不限制
	Timeout time.Duration `yaml:"timeout"`

	Cache     cache.Options   `yaml:"cache"`
	Resolver  ResolverOptions `yaml:"resolver"`
	Transport agent.Options   `yaml:"transport"`
}

type ResolverOptions struct {
	// 单次上游查询超时
	Timeout      time.Duration `yaml:"timeout" default:"5s"`
	BootstrapDNS []string      `yaml:"bootstrap-dns" default:"[\"223.5.5.5:53\",\"223.6.6.6:53\"]"`
	// 未配置上游时读取的系统配置
	ResolvConf string `yaml:"resolv-conf" default:"/etc/resolv.conf"`
	// 上游，tag -> udp://, tcp://, tls://, https://
	Upstream map[string]string `yaml:"upstream"`
	Route    route.Options     `yaml:"route"`
	Hosts    rewrite.Options   `yaml:"hosts"`
}

// Default fills every zero field from its default tag.
func (o *Options) Default() error {
	return defaults.Set(o)
}

func (o *Options) LoggerLevel() slog.Level {
	switch o.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

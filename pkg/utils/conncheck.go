package utils

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/mpapenbr/livetiming-gateway-go/log"
)

func WaitForTCP(ctx context.Context, addr string, timeout time.Duration) error {
	timeoutReached := time.Now().Add(timeout)
	start := time.Now()
	log.Debug("wait for tcp connection",
		log.String("addr", addr),
		log.String("timeout", timeout.String()))
	var d net.Dialer
	for time.Now().Before(timeoutReached) {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()

			log.Debug("tcp connection successful",
				log.String("addr", addr),
				log.String("duration", time.Since(start).String()))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("%s could not be reached after %v", addr, timeout)
}

// ExtractFromNatsURL returns host:port of the first server in a nats url
// list (nats://a:4222,nats://b:4222). The default port is 4222.
func ExtractFromNatsURL(url string) string {
	param := resolveRegex(
		"^(nats|tls)://(.*@)?(?P<addr>(?P<host>[^:,/]*?)(:(?P<port>\\d+))?)([,/].*)?$", url)
	if len(param) == 0 || param["host"] == "" {
		return ""
	}
	if port, ok := param["port"]; ok && port != "" {
		return param["addr"]
	}
	return fmt.Sprintf("%s:4222", param["addr"])
}

// ExtractFromRedisURL returns host:port of a redis url. The default port is 6379.
func ExtractFromRedisURL(url string) string {
	param := resolveRegex(
		"^(redis|rediss)://(.*@)?(?P<addr>(?P<host>[^:/]*?)(:(?P<port>\\d+))?)(/.*)?$", url)
	if len(param) == 0 || param["host"] == "" {
		return ""
	}
	if port, ok := param["port"]; ok && port != "" {
		return param["addr"]
	}
	return fmt.Sprintf("%s:6379", param["addr"])
}

func resolveRegex(regEx, url string) (paramsMap map[string]string) {
	compRegEx := regexp.MustCompile(regEx)
	match := compRegEx.FindStringSubmatch(url)

	paramsMap = make(map[string]string)
	if match == nil {
		return paramsMap
	}
	for i, name := range compRegEx.SubexpNames() {
		if i > 0 && i < len(match) && name != "" {
			paramsMap[name] = match[i]
		}
	}
	return paramsMap
}

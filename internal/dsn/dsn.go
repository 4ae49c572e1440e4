// Package dsn parses the cross-database URI grammar Queen accepts for
// Open:
//
//	scheme[+driver]://[user[:password]@][host][:port]/database[?k=v&...]
//
// Recognized schemes are sqlite, postgresql (alias postgres), and mysql.
// SQLite additionally distinguishes a relative three-slash form
// (sqlite:///rel/path.db) from an absolute four-slash form
// (sqlite:////abs/path.db).
package dsn

import (
	"fmt"
	"net/url"
	"strings"
)

// Info is a parsed database URI.
type Info struct {
	// Scheme is the normalized backend name: "sqlite", "postgresql", or
	// "mysql".
	Scheme string

	// SubDriver is the optional "+driver" suffix (e.g. "mysqldb" in
	// "mysql+mysqldb://..."), empty if not present.
	SubDriver string

	// User and Password are percent-decoded. Password is empty if not
	// present (even if User is).
	User     string
	Password string

	// Host and Port are empty for a socket-only or SQLite connection.
	Host string
	Port string

	// Database is the path component: a schema/database name for
	// postgresql and mysql, or a filesystem path for sqlite. For sqlite,
	// a path that does not start with "/" is relative to the working
	// directory; one that does is absolute.
	Database string

	// Params holds the parsed query string (e.g. unix_socket, sslmode).
	Params url.Values
}

// Parse parses uri into an Info, or returns a descriptive error.
func Parse(uri string) (Info, error) {
	schemePart, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Info{}, fmt.Errorf("dsn: missing \"://\" in %q", uri)
	}

	scheme, subDriver, _ := strings.Cut(schemePart, "+")
	scheme = normalizeScheme(scheme)
	if scheme == "" {
		return Info{}, fmt.Errorf("dsn: unrecognized scheme %q", schemePart)
	}

	body, rawQuery, _ := strings.Cut(rest, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Info{}, fmt.Errorf("dsn: invalid query string: %w", err)
	}

	info := Info{Scheme: scheme, SubDriver: subDriver, Params: params}

	if scheme == "sqlite" {
		info.Database = sqlitePath(body)
		return info, nil
	}

	userhost, dbPath, _ := strings.Cut(body, "/")
	if err := parseUserHost(userhost, &info); err != nil {
		return Info{}, err
	}
	info.Database = dbPath

	return info, nil
}

func normalizeScheme(s string) string {
	switch s {
	case "postgres", "postgresql":
		return "postgresql"
	case "mysql":
		return "mysql"
	case "sqlite":
		return "sqlite"
	default:
		return ""
	}
}

// sqlitePath distinguishes the three-slash (relative) and four-slash
// (absolute) SQLite forms. body is everything after "sqlite://" and
// before any "?query".
func sqlitePath(body string) string {
	if strings.HasPrefix(body, "//") {
		return body[1:] // absolute: keep the single leading slash
	}
	return strings.TrimPrefix(body, "/")
}

func parseUserHost(userhost string, info *Info) error {
	userinfo, hostport, hasUserinfo := strings.Cut(userhost, "@")
	if !hasUserinfo {
		// No "@": the whole thing is host[:port], no credentials.
		hostport = userhost
	} else {
		user, password, hasPassword := strings.Cut(userinfo, ":")
		decodedUser, err := url.PathUnescape(user)
		if err != nil {
			return fmt.Errorf("dsn: invalid percent-encoding in username: %w", err)
		}
		info.User = decodedUser
		if hasPassword {
			decodedPass, err := url.PathUnescape(password)
			if err != nil {
				return fmt.Errorf("dsn: invalid percent-encoding in password: %w", err)
			}
			info.Password = decodedPass
		}
	}

	if hostport == "" {
		return nil
	}
	host, port, hasPort := strings.Cut(hostport, ":")
	info.Host = host
	if hasPort {
		info.Port = port
	}
	return nil
}

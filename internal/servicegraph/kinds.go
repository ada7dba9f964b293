package servicegraph

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ServiceKind names a supported service type, the part of "kind:version"
// before the colon.
type ServiceKind string

const (
	KindNode          ServiceKind = "node"
	KindPHP           ServiceKind = "php"
	KindPython        ServiceKind = "python"
	KindGo            ServiceKind = "go"
	KindNginx         ServiceKind = "nginx"
	KindApache        ServiceKind = "apache"
	KindRedis         ServiceKind = "redis"
	KindMemcached     ServiceKind = "memcached"
	KindMySQL         ServiceKind = "mysql"
	KindMariaDB       ServiceKind = "mariadb"
	KindPostgres      ServiceKind = "postgres"
	KindMongo         ServiceKind = "mongo"
	KindElasticsearch ServiceKind = "elasticsearch"
	KindMailhog       ServiceKind = "mailhog"
)

// Role groups kinds that follow the same conventions.
type Role string

const (
	RoleAppserver Role = "appserver"
	RoleWebserver Role = "webserver"
	RoleDatabase  Role = "database"
	RoleCache     Role = "cache"
	RoleUtility   Role = "utility"
)

// KindDefaults is the default configuration of a service kind.
type KindDefaults struct {
	Image          string   // Repository, without tag
	TagSuffix      string   // Appended to the version to form the tag, e.g. "-fpm"
	DefaultVersion string   // Used when the type carries no version
	Versions       []string // Supported versions
	InternalPort   int      // Port the service listens on inside the app network
	Env            map[string]string
	Volumes        []string // "source:target" entries; "{data}" expands to the named data volume
	Ports          []string // Published by default, "[host:]container[/proto]"
	Command        []string
	Role           Role
	HTTP           bool // Whether published ports serve HTTP
}

const dataVolumePlaceholder = "{data}"

var tailForever = []string{"tail", "-f", "/dev/null"}

var kindTable = map[ServiceKind]KindDefaults{
	KindNode: {
		Image:          "node",
		DefaultVersion: "18",
		Versions:       []string{"6", "8", "8.9", "10", "12", "14", "16", "18", "20"},
		InternalPort:   80,
		Env:            map[string]string{"NODE_ENV": "development"},
		Command:        tailForever,
		Role:           RoleAppserver,
		HTTP:           true,
	},
	KindPHP: {
		Image:          "php",
		TagSuffix:      "-fpm",
		DefaultVersion: "8.2",
		Versions:       []string{"5.6", "7.0", "7.1", "7.2", "7.3", "7.4", "8.0", "8.1", "8.2", "8.3"},
		InternalPort:   9000,
		Role:           RoleAppserver,
	},
	KindPython: {
		Image:          "python",
		DefaultVersion: "3.11",
		Versions:       []string{"2.7", "3.6", "3.7", "3.8", "3.9", "3.10", "3.11", "3.12"},
		InternalPort:   8000,
		Env:            map[string]string{"PYTHONUNBUFFERED": "1"},
		Command:        tailForever,
		Role:           RoleAppserver,
		HTTP:           true,
	},
	KindGo: {
		Image:          "golang",
		DefaultVersion: "1.22",
		Versions:       []string{"1.19", "1.20", "1.21", "1.22", "1.23"},
		InternalPort:   8080,
		Command:        tailForever,
		Role:           RoleAppserver,
		HTTP:           true,
	},
	KindNginx: {
		Image:          "nginx",
		DefaultVersion: "1.25",
		Versions:       []string{"1.14", "1.16", "1.18", "1.20", "1.22", "1.24", "1.25"},
		InternalPort:   80,
		Ports:          []string{"80"},
		Role:           RoleWebserver,
		HTTP:           true,
	},
	KindApache: {
		Image:          "httpd",
		DefaultVersion: "2.4",
		Versions:       []string{"2.2", "2.4"},
		InternalPort:   80,
		Ports:          []string{"80"},
		Role:           RoleWebserver,
		HTTP:           true,
	},
	KindRedis: {
		Image:          "redis",
		DefaultVersion: "7.2",
		Versions:       []string{"2.8", "3.2", "4", "4.0", "5", "5.0", "6", "6.2", "7", "7.2"},
		InternalPort:   6379,
		Role:           RoleCache,
	},
	KindMemcached: {
		Image:          "memcached",
		DefaultVersion: "1.6",
		Versions:       []string{"1.5", "1.6"},
		InternalPort:   11211,
		Role:           RoleCache,
	},
	KindMySQL: {
		Image:          "mysql",
		DefaultVersion: "8.0",
		Versions:       []string{"5.6", "5.7", "8.0"},
		InternalPort:   3306,
		Env: map[string]string{
			"MYSQL_ALLOW_EMPTY_PASSWORD": "yes",
			"MYSQL_DATABASE":             "devstack",
		},
		Volumes: []string{dataVolumePlaceholder + ":/var/lib/mysql"},
		Role:    RoleDatabase,
	},
	KindMariaDB: {
		Image:          "mariadb",
		DefaultVersion: "10.11",
		Versions:       []string{"10.3", "10.4", "10.5", "10.6", "10.11", "11.2"},
		InternalPort:   3306,
		Env: map[string]string{
			"MARIADB_ALLOW_EMPTY_ROOT_PASSWORD": "yes",
			"MARIADB_DATABASE":                  "devstack",
		},
		Volumes: []string{dataVolumePlaceholder + ":/var/lib/mysql"},
		Role:    RoleDatabase,
	},
	KindPostgres: {
		Image:          "postgres",
		DefaultVersion: "15",
		Versions:       []string{"11", "12", "13", "14", "15", "16"},
		InternalPort:   5432,
		Env: map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
			"POSTGRES_DB":               "devstack",
		},
		Volumes: []string{dataVolumePlaceholder + ":/var/lib/postgresql/data"},
		Role:    RoleDatabase,
	},
	KindMongo: {
		Image:          "mongo",
		DefaultVersion: "6.0",
		Versions:       []string{"4.4", "5.0", "6.0", "7.0"},
		InternalPort:   27017,
		Volumes:        []string{dataVolumePlaceholder + ":/data/db"},
		Role:           RoleDatabase,
	},
	KindElasticsearch: {
		Image:          "elasticsearch",
		DefaultVersion: "7.17.9",
		Versions:       []string{"6.8.23", "7.17.9", "8.11.1"},
		InternalPort:   9200,
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		},
		Volumes: []string{dataVolumePlaceholder + ":/usr/share/elasticsearch/data"},
		Role:    RoleDatabase,
	},
	KindMailhog: {
		Image:          "mailhog/mailhog",
		DefaultVersion: "v1.0.1",
		Versions:       []string{"v1.0.0", "v1.0.1"},
		InternalPort:   1025,
		Ports:          []string{"8025"},
		Role:           RoleUtility,
		HTTP:           true,
	},
}

// Kinds returns every supported kind, sorted by name.
func Kinds() []ServiceKind {
	kinds := make([]ServiceKind, 0, len(kindTable))
	for k := range kindTable {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Defaults returns the default configuration of kind.
func Defaults(kind ServiceKind) (KindDefaults, bool) {
	d, ok := kindTable[kind]
	return d, ok
}

// ParseType splits a "kind:version" type string. A missing version resolves to
// the kind's default. Unsupported versions are rejected unless
// allowAnyVersion is set, which is the case when the service brings its own
// image.
func ParseType(typ string, allowAnyVersion bool) (ServiceKind, string, error) {
	name, version, _ := strings.Cut(strings.TrimSpace(typ), ":")
	kind := ServiceKind(strings.ToLower(strings.TrimSpace(name)))
	version = strings.TrimSpace(version)

	defaults, ok := kindTable[kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownServiceType, typ, joinKinds(Kinds()))
	}
	if version == "" {
		return kind, defaults.DefaultVersion, nil
	}
	if !allowAnyVersion && !slices.Contains(defaults.Versions, version) {
		return "", "", fmt.Errorf("%w: %s version %q is not supported (supported: %s)",
			ErrUnknownServiceType, kind, version, strings.Join(defaults.Versions, ", "))
	}
	return kind, version, nil
}

// ImageRef returns the image reference for version, honoring a repository
// override.
func (d KindDefaults) ImageRef(version, repoOverride string) string {
	repo := d.Image
	if repoOverride != "" {
		repo = repoOverride
	}
	return repo + ":" + version + d.TagSuffix
}

func joinKinds(kinds []ServiceKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ConnectionString identifies a relay listener endpoint and its credentials
type ConnectionString struct {
	// Endpoint is the relay host without scheme
	Endpoint string
	// KeyName is the shared access policy name
	KeyName string
	// Key is the shared access policy key
	Key string
	// EntityPath is the hybrid connection (path) identifier
	EntityPath string
}

// String renders the connection string in Endpoint=...;Key=value form
func (cs ConnectionString) String() string {
	return fmt.Sprintf("Endpoint=sb://%s/;SharedAccessKeyName=%s;SharedAccessKey=%s;EntityPath=%s",
		cs.Endpoint, cs.KeyName, cs.Key, cs.EntityPath)
}

// Masked renders the connection string with the key hidden, for logs
func (cs ConnectionString) Masked() string {
	masked := cs
	masked.Key = "****"
	return masked.String()
}

// ParseConnectionString parses a string produced by ConnectionString.String
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return ConnectionString{}, errors.Wrapf(ErrConfiguration, "malformed connection string segment %q", part)
		}
		switch strings.ToLower(kv[0]) {
		case "endpoint":
			endpoint := strings.TrimPrefix(kv[1], "sb://")
			cs.Endpoint = strings.TrimSuffix(endpoint, "/")
		case "sharedaccesskeyname":
			cs.KeyName = kv[1]
		case "sharedaccesskey":
			cs.Key = kv[1]
		case "entitypath":
			cs.EntityPath = kv[1]
		}
	}
	if err := cs.Validate(); err != nil {
		return ConnectionString{}, err
	}
	return cs, nil
}

// Validate checks that every segment is present
func (cs ConnectionString) Validate() error {
	var missing []string
	if cs.Endpoint == "" {
		missing = append(missing, "Endpoint")
	}
	if cs.EntityPath == "" {
		missing = append(missing, "EntityPath")
	}
	if cs.KeyName == "" {
		missing = append(missing, "SharedAccessKeyName")
	}
	if cs.Key == "" {
		missing = append(missing, "SharedAccessKey")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrConfiguration, "connection string missing %s", strings.Join(missing, ", "))
	}
	return nil
}

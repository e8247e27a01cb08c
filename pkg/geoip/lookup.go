package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Database resolves public IPs to ISO country codes. A nil *Database is
// valid and resolves nothing, which is what runs when no GeoLite2 file is
// configured.
type Database struct {
	reader *geoip2.Reader
}

func Open(path string) (*Database, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Database{reader: r}, nil
}

func (d *Database) Country(ipStr string) string {
	if d == nil || d.reader == nil {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}

	record, err := d.reader.Country(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (d *Database) Close() error {
	if d == nil || d.reader == nil {
		return nil
	}
	return d.reader.Close()
}

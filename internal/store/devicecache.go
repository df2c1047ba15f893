package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/upnpgo/upnp/internal/descriptions"
	"github.com/upnpgo/upnp/internal/model"
	"github.com/upnpgo/upnp/internal/upnperr"
)

// CachedDevice is one row of the control point's restart-surviving remote-
// device cache: the raw bytes fetched off the wire, kept as-is so they can
// be re-parsed with internal/descriptions rather than round-tripping a
// serialized model.Tree.
type CachedDevice struct {
	UDN            string
	Location       string
	BootID         int
	ConfigID       int
	DescriptionXML []byte
	SCPDDocuments  map[string][]byte // keyed by absolute SCPDURL, resolved against Location
	CachedAt       time.Time
}

// RemoteDeviceCache persists CachedDevice rows: one per remote root device,
// holding UPnP's location/bootId/configId plus the raw documents needed to
// rebuild a model.Tree offline.
type RemoteDeviceCache struct {
	db *sql.DB
}

// NewRemoteDeviceCache builds a RemoteDeviceCache over db.
func NewRemoteDeviceCache(db *DB) *RemoteDeviceCache {
	return &RemoteDeviceCache{db: db.Conn()}
}

// Upsert records or replaces the cached entry for udn.
func (c *RemoteDeviceCache) Upsert(d *CachedDevice) error {
	scpdBlob, err := json.Marshal(d.SCPDDocuments)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(`
		INSERT INTO remote_devices (udn, location, boot_id, config_id, description_xml, scpd_documents, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(udn) DO UPDATE SET
			location = excluded.location,
			boot_id = excluded.boot_id,
			config_id = excluded.config_id,
			description_xml = excluded.description_xml,
			scpd_documents = excluded.scpd_documents,
			cached_at = excluded.cached_at
	`, d.UDN, d.Location, d.BootID, d.ConfigID, d.DescriptionXML, scpdBlob, d.CachedAt.Unix())
	return err
}

// Get retrieves the cached entry for udn, or (nil, nil) if absent.
func (c *RemoteDeviceCache) Get(udn string) (*CachedDevice, error) {
	row := c.db.QueryRow(`
		SELECT udn, location, boot_id, config_id, description_xml, scpd_documents, cached_at
		FROM remote_devices WHERE udn = ?
	`, udn)
	return scanCachedDevice(row)
}

// List returns every cached entry, in no particular order.
func (c *RemoteDeviceCache) List() ([]*CachedDevice, error) {
	rows, err := c.db.Query(`
		SELECT udn, location, boot_id, config_id, description_xml, scpd_documents, cached_at
		FROM remote_devices
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CachedDevice
	for rows.Next() {
		d, err := scanCachedDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes the cached entry for udn, mirroring the registry's
// byebye-triggered eviction.
func (c *RemoteDeviceCache) Delete(udn string) error {
	_, err := c.db.Exec(`DELETE FROM remote_devices WHERE udn = ?`, udn)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCachedDevice(row rowScanner) (*CachedDevice, error) {
	var d CachedDevice
	var scpdBlob []byte
	var cachedAt int64
	err := row.Scan(&d.UDN, &d.Location, &d.BootID, &d.ConfigID, &d.DescriptionXML, &scpdBlob, &cachedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(scpdBlob, &d.SCPDDocuments); err != nil {
		return nil, err
	}
	d.CachedAt = time.Unix(cachedAt, 0)
	return &d, nil
}

// Rebuild reconstructs a model.Tree from a CachedDevice's raw bytes without
// any network access, the way a restarted control point serves cached
// device data immediately while SSDP re-discovery runs in the background.
func (d *CachedDevice) Rebuild() (*model.Tree, model.DeviceIndex, error) {
	tree, pending, err := descriptions.ParseDeviceDescription(d.DescriptionXML, d.Location)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range pending {
		scpdData, ok := d.SCPDDocuments[p.SCPDURL]
		if !ok {
			return nil, 0, upnperr.New(upnperr.KindMalformedMessage, "cached device is missing SCPD for "+p.SCPDURL)
		}
		actions, vars, err := descriptions.ParseSCPD(scpdData)
		if err != nil {
			return nil, 0, err
		}
		if err := tree.SetServiceSCPD(p.Service, actions, vars); err != nil {
			return nil, 0, err
		}
	}
	roots := tree.RootDevices()
	if len(roots) == 0 {
		return nil, 0, upnperr.New(upnperr.KindMalformedMessage, "cached device description declares no root device")
	}
	return tree, roots[0], nil
}

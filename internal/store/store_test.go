package store

import (
	"os"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	f, err := os.CreateTemp("", "upnp_store_test_*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	dbPath := f.Name()
	f.Close()

	db, err := New(dbPath)
	if err != nil {
		os.Remove(dbPath)
		t.Fatalf("create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}
	return db, cleanup
}

func TestBootIDStoreFirstCallReturnsZero(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBootIDStore(db)
	id, err := store.Next("uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first bootId 0, got %d", id)
	}
}

func TestBootIDStoreIncrementsAcrossRestarts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	udn := "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	store := NewBootIDStore(db)

	first, err := store.Next(udn)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := store.Next(udn)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected bootId to increment, got %d then %d", first, second)
	}
}

func TestBootIDStoreTracksUDNsIndependently(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBootIDStore(db)
	a, err := store.Next("uuid:aaaa")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	b, err := store.Next("uuid:bbbb")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if a != 0 || b != 0 {
		t.Fatalf("expected both UDNs to start at 0, got %d and %d", a, b)
	}
}

const testDeviceDescriptionXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:BinaryLight:1</deviceType>
    <friendlyName>Example Binary Light</friendlyName>
    <manufacturer>Example Corp</manufacturer>
    <modelName>Lightbulb 3000</modelName>
    <UDN>uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:SwitchPower:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:SwitchPower:1</serviceId>
        <SCPDURL>/SwitchPower/scpd.xml</SCPDURL>
        <controlURL>/SwitchPower/Control</controlURL>
        <eventSubURL>/SwitchPower/Event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

const testSCPDXML = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action>
      <name>SetTarget</name>
      <argumentList>
        <argument>
          <name>newTargetValue</name>
          <direction>in</direction>
          <relatedStateVariable>Target</relatedStateVariable>
        </argument>
      </argumentList>
    </action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="no">
      <name>Target</name>
      <dataType>boolean</dataType>
      <defaultValue>0</defaultValue>
    </stateVariable>
  </serviceStateTable>
</scpd>`

func TestRemoteDeviceCacheUpsertAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cache := NewRemoteDeviceCache(db)
	udn := "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

	entry := &CachedDevice{
		UDN:            udn,
		Location:       "http://192.0.2.10:1234/description.xml",
		BootID:         1,
		ConfigID:       7,
		DescriptionXML: []byte(testDeviceDescriptionXML),
		SCPDDocuments:  map[string][]byte{"/SwitchPower/scpd.xml": []byte(testSCPDXML)},
		CachedAt:       time.Now(),
	}
	if err := cache.Upsert(entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := cache.Get(udn)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cached entry")
	}
	if got.Location != entry.Location || got.BootID != 1 || got.ConfigID != 7 {
		t.Fatalf("got = %+v", got)
	}
	if string(got.SCPDDocuments["/SwitchPower/scpd.xml"]) != testSCPDXML {
		t.Fatalf("SCPD document not round-tripped correctly")
	}
}

func TestRemoteDeviceCacheGetMissingReturnsNil(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cache := NewRemoteDeviceCache(db)
	got, err := cache.Get("uuid:does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for a missing entry, got %+v", got)
	}
}

func TestRemoteDeviceCacheUpsertReplacesExistingEntry(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cache := NewRemoteDeviceCache(db)
	udn := "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

	base := &CachedDevice{
		UDN: udn, Location: "http://a/description.xml", BootID: 1, ConfigID: 1,
		DescriptionXML: []byte(testDeviceDescriptionXML),
		SCPDDocuments:  map[string][]byte{"/SwitchPower/scpd.xml": []byte(testSCPDXML)},
		CachedAt:       time.Now(),
	}
	if err := cache.Upsert(base); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rebooted := *base
	rebooted.BootID = 2
	if err := cache.Upsert(&rebooted); err != nil {
		t.Fatalf("Upsert (reboot): %v", err)
	}

	got, err := cache.Get(udn)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BootID != 2 {
		t.Fatalf("expected the reboot's bootId to win, got %d", got.BootID)
	}
}

func TestRemoteDeviceCacheDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cache := NewRemoteDeviceCache(db)
	udn := "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	if err := cache.Upsert(&CachedDevice{
		UDN: udn, Location: "http://a/description.xml",
		DescriptionXML: []byte(testDeviceDescriptionXML),
		SCPDDocuments:  map[string][]byte{"/SwitchPower/scpd.xml": []byte(testSCPDXML)},
		CachedAt:       time.Now(),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := cache.Delete(udn); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := cache.Get(udn)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected the entry to be gone after Delete")
	}
}

func TestRemoteDeviceCacheList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cache := NewRemoteDeviceCache(db)
	for _, udn := range []string{"uuid:one", "uuid:two"} {
		if err := cache.Upsert(&CachedDevice{
			UDN: udn, Location: "http://a/description.xml",
			DescriptionXML: []byte(testDeviceDescriptionXML),
			SCPDDocuments:  map[string][]byte{"/SwitchPower/scpd.xml": []byte(testSCPDXML)},
			CachedAt:       time.Now(),
		}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	all, err := cache.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 cached entries, got %d", len(all))
	}
}

func TestCachedDeviceRebuildReconstructsTree(t *testing.T) {
	entry := &CachedDevice{
		UDN:            "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		Location:       "http://192.0.2.10:1234/description.xml",
		DescriptionXML: []byte(testDeviceDescriptionXML),
		SCPDDocuments:  map[string][]byte{"http://192.0.2.10:1234/SwitchPower/scpd.xml": []byte(testSCPDXML)},
	}

	tree, root, err := entry.Rebuild()
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	dev, err := tree.Device(root)
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if dev.UDN != entry.UDN {
		t.Fatalf("UDN = %q, want %q", dev.UDN, entry.UDN)
	}
}

func TestCachedDeviceRebuildFailsWithoutCachedSCPD(t *testing.T) {
	entry := &CachedDevice{
		UDN:            "uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		Location:       "http://192.0.2.10:1234/description.xml",
		DescriptionXML: []byte(testDeviceDescriptionXML),
		SCPDDocuments:  map[string][]byte{},
	}

	if _, _, err := entry.Rebuild(); err == nil {
		t.Fatal("expected an error when a service's SCPD is missing from the cache")
	}
}

package spa

import "testing"

func TestBuildRequiresBothKeys(t *testing.T) {
	if _, err := Build([]byte("payload"), nil, []byte("hmac")); err == nil {
		t.Fatal("expected an error with no encryption key")
	}
	if _, err := Build([]byte("payload"), []byte("enc"), nil); err == nil {
		t.Fatal("expected an error with no hmac key")
	}
}

func TestBuildProducesDistinctPacketsForDistinctKeys(t *testing.T) {
	payload := []byte("stanza=prod-gw;src=203.0.113.7")

	p1, err := Build(payload, []byte("enc-key-one"), []byte("hmac-key-one"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p2, err := Build(payload, []byte("enc-key-two"), []byte("hmac-key-two"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(p1.Raw) == string(p2.Raw) {
		t.Fatal("expected different keys to produce different packets")
	}
	if p1.Digest == p2.Digest {
		t.Fatal("expected different keys to produce different digests")
	}
}

func TestBuildIsNonDeterministicAcrossCalls(t *testing.T) {
	// Random salt/IV per call means even identical inputs must not collide,
	// which is what keeps a replay-cache digest meaningful.
	payload := []byte("stanza=prod-gw;src=203.0.113.7")
	encKey, hmacKey := []byte("enc-key"), []byte("hmac-key")

	p1, err := Build(payload, encKey, hmacKey)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p2, err := Build(payload, encKey, hmacKey)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p1.Digest == p2.Digest {
		t.Fatal("expected two builds of the same payload to produce distinct digests")
	}
}

func TestSendRejectsUnroutableAddress(t *testing.T) {
	packet, err := Build([]byte("x"), []byte("enc"), []byte("hmac"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := Send("not a valid address", packet, 0); err == nil {
		t.Fatal("expected Send to fail against a malformed address")
	}
}

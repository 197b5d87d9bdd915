package kv

// TVSetup is the persisted TV pairing state.
type TVSetup struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// HueSetup is the persisted bridge pairing and discovery state.
type HueSetup struct {
	Host           string `json:"host"`
	Identification string `json:"identification"`
	Username       string `json:"username"`
	AppID          string `json:"app_id"`
	ClientKey      string `json:"client_key"`
	AreaID         string `json:"area_id"`
}

const (
	setupBucketName = "setup"
	tvKey           = "tv"
	hueKey          = "hue"
)

// SetupStore is the typed wrapper over the setup bucket.
type SetupStore struct {
	bucket *Bucket
}

// NewSetupStore creates the setup store backed by the given database.
func NewSetupStore(b *Bucket) *SetupStore {
	return &SetupStore{bucket: b}
}

// SetupBucketName returns the bucket name used for setup state.
func SetupBucketName() string { return setupBucketName }

// TV loads persisted TV pairing state, nil when absent.
func (s *SetupStore) TV() (*TVSetup, error) {
	var setup TVSetup
	ok, err := s.bucket.Get(tvKey, &setup)
	if err != nil || !ok {
		return nil, err
	}
	return &setup, nil
}

// SaveTV persists TV pairing state.
func (s *SetupStore) SaveTV(setup *TVSetup) error {
	return s.bucket.Store(tvKey, setup)
}

// Hue loads persisted bridge state, nil when absent.
func (s *SetupStore) Hue() (*HueSetup, error) {
	var setup HueSetup
	ok, err := s.bucket.Get(hueKey, &setup)
	if err != nil || !ok {
		return nil, err
	}
	return &setup, nil
}

// SaveHue persists bridge state.
func (s *SetupStore) SaveHue(setup *HueSetup) error {
	return s.bucket.Store(hueKey, setup)
}

// Clear drops all persisted setup state.
func (s *SetupStore) Clear() error {
	return s.bucket.Clear()
}

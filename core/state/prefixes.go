package state

var (
	accountPrefix    = []byte("account/")
	itemPrefix       = []byte("market/item/")
	listingPrefix    = []byte("market/listing/")
	escrowPrefix     = []byte("market/escrow/")
	offerQuotaPrefix = []byte("market/offer-quota/")
	registryRawKey   = []byte("market/registry")

	paymentVaultDomain = []byte("market/vault/token/")
	itemVaultRawKey    = []byte("market/vault/items")

	genesisAppliedRawKey = []byte("genesis/applied")
)

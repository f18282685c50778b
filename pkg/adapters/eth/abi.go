package eth

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event names emitted by the registry.
const (
	EventWorkCreated      = "WorkCreated"
	EventVersionSubmitted = "VersionSubmitted"
	EventLicenseCreated   = "LicenseCreated"
	EventLicenseIssued    = "LicenseIssued"
	EventAccessGranted    = "AccessGranted"
)

// RegistryABI is the subset of the registry contract interface used by the client.
const RegistryABI = `[
  {"type":"function","name":"getWorkInfo","stateMutability":"view",
   "inputs":[{"name":"workId","type":"uint256"}],
   "outputs":[{"name":"author","type":"address"},{"name":"createdAt","type":"uint256"}]},
  {"type":"function","name":"getWorkVersions","stateMutability":"view",
   "inputs":[{"name":"workId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getVersion","stateMutability":"view",
   "inputs":[{"name":"versionId","type":"uint256"}],
   "outputs":[{"name":"workId","type":"uint256"},{"name":"title","type":"string"},
     {"name":"contentHash","type":"bytes32"},{"name":"metadataURI","type":"string"},
     {"name":"parentVersionId","type":"uint256"},{"name":"visibility","type":"uint8"},
     {"name":"category","type":"string"},{"name":"timestamp","type":"uint256"}]},
  {"type":"function","name":"getWorkLicenses","stateMutability":"view",
   "inputs":[{"name":"workId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getLicense","stateMutability":"view",
   "inputs":[{"name":"licenseId","type":"uint256"}],
   "outputs":[{"name":"workId","type":"uint256"},{"name":"licensee","type":"address"},
     {"name":"terms","type":"string"},{"name":"price","type":"uint256"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"getAccessGrant","stateMutability":"view",
   "inputs":[{"name":"workId","type":"uint256"},{"name":"licensee","type":"address"}],
   "outputs":[{"name":"encryptedScope","type":"bytes32"},{"name":"expiry","type":"uint64"}]},
  {"type":"function","name":"getEncryptedScope","stateMutability":"view",
   "inputs":[{"name":"workId","type":"uint256"},{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"submitVersion","stateMutability":"nonpayable",
   "inputs":[{"name":"workId","type":"uint256"},{"name":"title","type":"string"},
     {"name":"contentHash","type":"bytes32"},{"name":"metadataURI","type":"string"},
     {"name":"parentVersionId","type":"uint256"},{"name":"visibility","type":"uint8"},
     {"name":"category","type":"string"}],
   "outputs":[{"name":"versionId","type":"uint256"}]},
  {"type":"function","name":"issueLicense","stateMutability":"nonpayable",
   "inputs":[{"name":"workId","type":"uint256"},{"name":"terms","type":"string"},{"name":"price","type":"uint256"}],
   "outputs":[{"name":"licenseId","type":"uint256"}]},
  {"type":"function","name":"buyLicense","stateMutability":"payable",
   "inputs":[{"name":"licenseId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"grantAccess","stateMutability":"nonpayable",
   "inputs":[{"name":"workId","type":"uint256"},{"name":"licensee","type":"address"},
     {"name":"expiry","type":"uint64"},{"name":"encryptedScope","type":"bytes32"},{"name":"inputProof","type":"bytes"}],
   "outputs":[]},
  {"type":"event","name":"WorkCreated","anonymous":false,
   "inputs":[{"name":"workId","type":"uint256","indexed":true},{"name":"author","type":"address","indexed":true}]},
  {"type":"event","name":"VersionSubmitted","anonymous":false,
   "inputs":[{"name":"workId","type":"uint256","indexed":true},{"name":"versionId","type":"uint256","indexed":true},
     {"name":"author","type":"address","indexed":true}]},
  {"type":"event","name":"LicenseCreated","anonymous":false,
   "inputs":[{"name":"workId","type":"uint256","indexed":true},{"name":"licenseId","type":"uint256","indexed":true},
     {"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"LicenseIssued","anonymous":false,
   "inputs":[{"name":"workId","type":"uint256","indexed":true},{"name":"licensee","type":"address","indexed":true},
     {"name":"licenseId","type":"uint256","indexed":false}]},
  {"type":"event","name":"AccessGranted","anonymous":false,
   "inputs":[{"name":"workId","type":"uint256","indexed":true},{"name":"licensee","type":"address","indexed":true},
     {"name":"expiry","type":"uint64","indexed":false}]}
]`

var (
	parsedOnce sync.Once
	parsedABI  abi.ABI
	parseErr   error
)

// ParsedABI returns RegistryABI parsed once.
func ParsedABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsedABI, parseErr = abi.JSON(strings.NewReader(RegistryABI))
	})
	return parsedABI, parseErr
}

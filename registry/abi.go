package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ruteri/certificate-registry/interfaces"
)

// CertificateRegistryABI is the ABI of the AcademicCertificate contract.
const CertificateRegistryABI = `[
  {"type":"constructor","inputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"admin","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
  {"type":"function","name":"institutions","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"name","type":"string"},{"name":"cnpj","type":"string"},{"name":"responsible","type":"string"},{"name":"verified","type":"bool"}],"stateMutability":"view"},
  {"type":"function","name":"certificates","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"studentName","type":"string"},{"name":"issueDate","type":"uint256"},{"name":"issuerAddress","type":"address"}],"stateMutability":"view"},
  {"type":"function","name":"getCertificate","inputs":[{"name":"_certificateHash","type":"bytes32"}],"outputs":[{"name":"studentName","type":"string"},{"name":"issueDate","type":"uint256"},{"name":"issuerAddress","type":"address"}],"stateMutability":"view"},
  {"type":"function","name":"registerInstitution","inputs":[{"name":"_name","type":"string"},{"name":"_cnpj","type":"string"},{"name":"_responsible","type":"string"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"verifyInstitution","inputs":[{"name":"_institution","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"registerCertificate","inputs":[{"name":"_certificateHash","type":"bytes32"},{"name":"_studentName","type":"string"},{"name":"_issueDate","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"transferAdmin","inputs":[{"name":"newAdmin","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"event","name":"InstitutionRegistered","inputs":[{"name":"institution","type":"address","indexed":true},{"name":"name","type":"string","indexed":false}],"anonymous":false},
  {"type":"event","name":"InstitutionVerified","inputs":[{"name":"institution","type":"address","indexed":true},{"name":"verified","type":"bool","indexed":false}],"anonymous":false},
  {"type":"event","name":"CertificateRegistered","inputs":[{"name":"certificateHash","type":"bytes32","indexed":true},{"name":"issuer","type":"address","indexed":true}],"anonymous":false},
  {"type":"event","name":"AdminTransferred","inputs":[{"name":"oldAdmin","type":"address","indexed":true},{"name":"newAdmin","type":"address","indexed":true}],"anonymous":false}
]`

// ParsedABI returns the parsed contract ABI.
func ParsedABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(CertificateRegistryABI))
}

// revertReasons maps fragments of contract revert messages to registry errors.
// Order matters: more specific fragments come first.
var revertReasons = []struct {
	fragment string
	err      error
}{
	{"apenas o administrador", interfaces.ErrUnauthorized},
	{"only admin", interfaces.ErrUnauthorized},
	{"certificado ja registrado", interfaces.ErrDuplicateCertificate},
	{"certificate already registered", interfaces.ErrDuplicateCertificate},
	{"instituicao ja registrada", interfaces.ErrAlreadyRegistered},
	{"institution already registered", interfaces.ErrAlreadyRegistered},
	{"nao verificada", interfaces.ErrNotVerified},
	{"not verified", interfaces.ErrNotVerified},
	{"nao registrada", interfaces.ErrNotRegistered},
	{"not registered", interfaces.ErrNotRegistered},
	{"certificado nao encontrado", interfaces.ErrNotFound},
	{"certificate not found", interfaces.ErrNotFound},
	{"hash do certificado invalido", interfaces.ErrInvalidHash},
	{"invalid certificate hash", interfaces.ErrInvalidHash},
	{"data de emissao invalida", interfaces.ErrInvalidDate},
	{"invalid issue date", interfaces.ErrInvalidDate},
	{"endereco invalido", interfaces.ErrInvalidIdentity},
	{"invalid address", interfaces.ErrInvalidIdentity},
	{"e obrigatorio", interfaces.ErrInvalidName},
	{"name is required", interfaces.ErrInvalidName},
}

// revertReason extracts the revert message carried by err, decoding the
// Error(string) payload of RPC data errors when present.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

// mapContractError translates a contract revert into the matching registry
// error. Errors that are not recognised reverts are returned unchanged.
func mapContractError(err error) error {
	if err == nil {
		return nil
	}

	reason := revertReason(err)
	lowered := strings.ToLower(reason)
	for _, r := range revertReasons {
		if strings.Contains(lowered, r.fragment) {
			return fmt.Errorf("%w: %s", r.err, reason)
		}
	}
	return err
}

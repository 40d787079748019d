package api

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Auth holds the signing key used for CLOB authentication and order
// signing. The key never leaves this package; the engine only sees the
// ClobClient boundary.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
}

// NewAuth loads the signing key from POLYMARKET_PRIVATE_KEY.
func NewAuth() (*Auth, error) {
	raw := strings.TrimSpace(os.Getenv("POLYMARKET_PRIVATE_KEY"))
	if raw == "" {
		return nil, fmt.Errorf("auth: POLYMARKET_PRIVATE_KEY not set")
	}
	raw = strings.TrimPrefix(raw, "0x")

	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}

	return &Auth{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    137, // Polygon mainnet
	}, nil
}

// Address returns the signer's wallet address.
func (a *Auth) Address() common.Address {
	return a.address
}

// SignAuthHeaders produces the L1 authentication headers for the CLOB
// key-management endpoints (EIP-712 ClobAuth attestation).
func (a *Auth) SignAuthHeaders() (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := "0"

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(a.chainID),
		},
		Message: map[string]interface{}{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     "0",
			"message":   "This message attests that I control the given wallet",
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("auth: hash typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("auth: sign: %w", err)
	}
	sig[64] += 27

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": "0x" + common.Bytes2Hex(sig),
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     nonce,
	}, nil
}

// signHash signs an arbitrary 32-byte digest with the wallet key,
// returning a 65-byte signature with the v value adjusted for Ethereum.
func (a *Auth) signHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

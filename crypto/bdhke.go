package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domain separator for hash_to_curve. Part of the wire contract:
// every wallet sharing a seed must map secrets to the same points.
const hashToCurveDomainSeparator = "Secp256k1_HashToCurve_Cashu_"

var ErrHashToCurveExhausted = errors.New("no valid point found for message")

// HashToCurve deterministically maps message to a point on the curve
// by hashing with a domain separator and a little-endian counter until
// the result is a valid x coordinate.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgToHash := sha256.Sum256(append([]byte(hashToCurveDomainSeparator), message...))

	counterBytes := make([]byte, 4)
	for counter := uint32(0); counter < 1<<16; counter++ {
		binary.LittleEndian.PutUint32(counterBytes, counter)

		hash := sha256.Sum256(append(msgToHash[:], counterBytes...))
		pkhash := append([]byte{0x02}, hash[:]...)
		point, err := secp256k1.ParsePubKey(pkhash)
		if err == nil {
			return point, nil
		}
	}
	return nil, ErrHashToCurveExhausted
}

// HashToCurveHex returns the compressed point for secret, hex encoded.
// This is the Y used to look up a proof's state at the mint.
func HashToCurveHex(secret string) (string, error) {
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(Y.SerializeCompressed()), nil
}

// GenerateBlindingFactor returns a new random scalar in [1, n-1].
func GenerateBlindingFactor() (*secp256k1.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// BlindMessage computes B_ = Y + rG. If r is nil, a random blinding
// factor is generated. The blinding factor used is returned alongside B_.
func BlindMessage(secret string, r *secp256k1.PrivateKey) (
	*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}

	if r == nil {
		r, err = GenerateBlindingFactor()
		if err != nil {
			return nil, nil, err
		}
	}

	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	// B_ = Y + rG
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// UnblindSignature computes C = C_ - rK where K is the mint public key
// for the amount being signed.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// Verify checks k * HashToCurve(secret) == C
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// HashE hashes the concatenation of the uncompressed serializations,
// hex encoded, of the public keys passed. Used for DLEQ challenges.
func HashE(publicKeys []*secp256k1.PublicKey) [32]byte {
	var hashStr string
	for _, pk := range publicKeys {
		hashStr += hex.EncodeToString(pk.SerializeUncompressed())
	}
	return sha256.Sum256([]byte(hashStr))
}

// VerifyDLEQ checks e == hash(R1, R2, A, C_) for
// R1 = s*G - e*A and R2 = s*B_ - e*C_.
func VerifyDLEQ(e, s *secp256k1.PrivateKey,
	A, B_, C_ *secp256k1.PublicKey) bool {

	var APoint, B_Point, C_Point secp256k1.JacobianPoint
	A.AsJacobian(&APoint)
	B_.AsJacobian(&B_Point)
	C_.AsJacobian(&C_Point)

	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = s*G - e*A
	var sGPoint, eANeg, R1 secp256k1.JacobianPoint
	s.PubKey().AsJacobian(&sGPoint)
	secp256k1.ScalarMultNonConst(&eNeg, &APoint, &eANeg)
	secp256k1.AddNonConst(&sGPoint, &eANeg, &R1)
	R1.ToAffine()

	// R2 = s*B_ - e*C_
	var sB_Point, eC_Neg, R2 secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&s.Key, &B_Point, &sB_Point)
	secp256k1.ScalarMultNonConst(&eNeg, &C_Point, &eC_Neg)
	secp256k1.AddNonConst(&sB_Point, &eC_Neg, &R2)
	R2.ToAffine()

	hash := HashE([]*secp256k1.PublicKey{
		secp256k1.NewPublicKey(&R1.X, &R1.Y),
		secp256k1.NewPublicKey(&R2.X, &R2.Y),
		A,
		C_,
	})

	var eHash secp256k1.ModNScalar
	eHash.SetBytes(&hash)

	return eHash.Equals(&e.Key)
}

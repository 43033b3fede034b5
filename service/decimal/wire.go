package decimal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
)

var two128 = new(big.Int).Lsh(big.NewInt(1), 128)

// MarshalWithEncoder writes the i128 mantissa and u32 scale in little-endian order.
func (d Decimal) MarshalWithEncoder(encoder *bin.Encoder) error {
	m := new(big.Int).Set(d.mantissaOrZero())
	if m.Sign() < 0 {
		m.Add(m, two128)
	}
	lo := new(big.Int).And(m, new(big.Int).SetUint64(^uint64(0))).Uint64()
	hi := new(big.Int).Rsh(m, 64).Uint64()

	if err := encoder.WriteUint64(lo, binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteUint64(hi, binary.LittleEndian); err != nil {
		return err
	}
	return encoder.WriteUint32(d.scale, binary.LittleEndian)
}

// UnmarshalWithDecoder reads a Decimal written by MarshalWithEncoder.
func (d *Decimal) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	lo, err := decoder.ReadUint64(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("failed to read mantissa: %w", err)
	}
	hi, err := decoder.ReadUint64(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("failed to read mantissa: %w", err)
	}
	scale, err := decoder.ReadUint32(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("failed to read scale: %w", err)
	}

	m := new(big.Int).SetUint64(hi)
	m.Lsh(m, 64)
	m.Or(m, new(big.Int).SetUint64(lo))
	if hi>>63 == 1 {
		m.Sub(m, two128)
	}

	decoded, err := New(m, scale)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

// MarshalBinary returns the 20-byte wire form.
func (d Decimal) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the 20-byte wire form.
func (d *Decimal) UnmarshalBinary(data []byte) error {
	if len(data) < WireSize {
		return fmt.Errorf("decimal: need %d bytes, got %d", WireSize, len(data))
	}
	return d.UnmarshalWithDecoder(bin.NewBorshDecoder(data[:WireSize]))
}

// Decode reads a Decimal at offset within raw account data.
func Decode(data []byte, offset int) (Decimal, error) {
	if offset < 0 || offset+WireSize > len(data) {
		return Decimal{}, fmt.Errorf("decimal: offset %d out of range for %d bytes", offset, len(data))
	}
	var d Decimal
	if err := d.UnmarshalBinary(data[offset : offset+WireSize]); err != nil {
		return Decimal{}, err
	}
	return d, nil
}

type jsonDecimal struct {
	Mantissa string `json:"mantissa"`
	Scale    uint32 `json:"scale"`
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonDecimal{
		Mantissa: d.mantissaOrZero().String(),
		Scale:    d.scale,
	})
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var raw jsonDecimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m, ok := new(big.Int).SetString(raw.Mantissa, 10)
	if !ok {
		return fmt.Errorf("decimal: invalid mantissa %q", raw.Mantissa)
	}
	decoded, err := New(m, raw.Scale)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

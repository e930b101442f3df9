// Package partition делит пространство кандидатов задачи на непересекающиеся части.
//
// Кандидаты – все слова длиной от 1 до maxLength над алфавитом, перечисленные
// сначала по длине, затем в порядке алфавита. Каждая часть – непрерывный диапазон
// индексов [Start, End) этого перечисления.
package partition

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"
)

var (
	ErrEmptyAlphabet     = errors.New("alphabet must not be empty")
	ErrInvalidAlphabet   = errors.New("alphabet must consist of distinct ASCII characters")
	ErrEmptyPartition    = errors.New("partition is empty")
	ErrInvalidMaxLength  = errors.New("max length must be positive")
	ErrInvalidPartCount  = errors.New("part count must be positive")
	ErrTooManyParts      = errors.New("part count exceeds the number of candidates")
	ErrKeyspaceTooLarge  = errors.New("candidate space exceeds uint64")
	ErrIndexOutOfRange   = errors.New("candidate index out of range")
	ErrInvalidChunkLimit = errors.New("words per part must be positive")
)

// Partition – диапазон [Start, End) кандидатов, назначенный подзадаче PartNumber.
type Partition struct {
	PartNumber int
	Start      uint64
	End        uint64
}

// ValidateAlphabet проверяет, что алфавит непуст и состоит из различных ASCII-символов:
// индекс кандидата отображается в слово побайтно.
func ValidateAlphabet(alphabet string) error {
	if alphabet == "" {
		return ErrEmptyAlphabet
	}
	var seen [utf8.RuneSelf]bool
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if c >= utf8.RuneSelf {
			return fmt.Errorf("%w: non-ASCII byte at %d", ErrInvalidAlphabet, i)
		}
		if seen[c] {
			return fmt.Errorf("%w: %q repeated", ErrInvalidAlphabet, c)
		}
		seen[c] = true
	}
	return nil
}

// Size возвращает количество слов длиной 1..maxLength над алфавитом размера alphabetLen.
func Size(alphabetLen, maxLength int) (uint64, error) {
	if alphabetLen <= 0 {
		return 0, ErrEmptyAlphabet
	}
	if maxLength <= 0 {
		return 0, ErrInvalidMaxLength
	}

	a := big.NewInt(int64(alphabetLen))
	term := big.NewInt(1)
	sum := new(big.Int)
	for l := 1; l <= maxLength; l++ {
		term.Mul(term, a)
		sum.Add(sum, term)
	}
	if !sum.IsUint64() {
		return 0, fmt.Errorf("%w: alphabet=%d, maxLength=%d", ErrKeyspaceTooLarge, alphabetLen, maxLength)
	}
	return sum.Uint64(), nil
}

// PartCount возвращает число частей, при котором ни одна часть не превышает maxWordsPerPart слов.
func PartCount(alphabetLen, maxLength int, maxWordsPerPart uint64) (int, error) {
	if maxWordsPerPart == 0 {
		return 0, ErrInvalidChunkLimit
	}
	size, err := Size(alphabetLen, maxLength)
	if err != nil {
		return 0, err
	}
	parts := size / maxWordsPerPart
	if size%maxWordsPerPart != 0 {
		parts++
	}
	if parts > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d parts", ErrTooManyParts, parts)
	}
	return max(1, int(parts)), nil
}

// Split делит пространство кандидатов на partCount непрерывных непересекающихся частей,
// покрывающих его целиком. Первые size%partCount частей получают на одно слово больше.
// Результат детерминирован и зависит только от аргументов.
func Split(alphabet string, maxLength, partCount int) ([]Partition, error) {
	if partCount <= 0 {
		return nil, ErrInvalidPartCount
	}
	if err := ValidateAlphabet(alphabet); err != nil {
		return nil, err
	}
	size, err := Size(len(alphabet), maxLength)
	if err != nil {
		return nil, err
	}
	if uint64(partCount) > size {
		return nil, fmt.Errorf("%w: %d parts for %d candidates", ErrTooManyParts, partCount, size)
	}

	base := size / uint64(partCount)
	extra := size % uint64(partCount)

	parts := make([]Partition, partCount)
	var start uint64
	for i := range parts {
		n := base
		if uint64(i) < extra {
			n++
		}
		parts[i] = Partition{PartNumber: i, Start: start, End: start + n}
		start += n
	}
	return parts, nil
}

// Candidate возвращает слово с индексом index в перечислении кандидатов.
func Candidate(alphabet string, maxLength int, index uint64) (string, error) {
	if err := ValidateAlphabet(alphabet); err != nil {
		return "", err
	}
	size, err := Size(len(alphabet), maxLength)
	if err != nil {
		return "", err
	}
	if index >= size {
		return "", fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, size)
	}

	base := uint64(len(alphabet))
	length := 1
	block := base
	for index >= block {
		index -= block
		length++
		block *= base
	}

	word := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		word[i] = alphabet[index%base]
		index /= base
	}
	return string(word), nil
}

// Bounds возвращает первое и последнее слово части.
func Bounds(alphabet string, maxLength int, p Partition) (first, last string, err error) {
	if p.End <= p.Start {
		return "", "", fmt.Errorf("%w: part %d [%d, %d)", ErrEmptyPartition, p.PartNumber, p.Start, p.End)
	}
	if first, err = Candidate(alphabet, maxLength, p.Start); err != nil {
		return "", "", err
	}
	if last, err = Candidate(alphabet, maxLength, p.End-1); err != nil {
		return "", "", err
	}
	return first, last, nil
}

// Package contracts holds the data model shared by the scorevault packages:
// encrypted records, ciphertext handles, decryption capabilities and the
// context epoch that every workflow captures before suspending.
package contracts

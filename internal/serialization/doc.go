// Package serialization implements the .born checkpoint format used to
// persist trained classifier weights.
//
//	Format Structure:
//	  [0x00: Magic "BORN" (4 bytes)]
//	  [0x04: Version (uint32 LE)]
//	  [0x08: Flags (uint32 LE)]
//	  [0x0C: Reserved (4 bytes)]
//	  [0x10: Header Size (uint64 LE)]
//	  [0x18: Data Size (uint64 LE)]
//	  [0x20: SHA-256 of the tensor data (32 bytes)]
//	  [0x40: Header: JSON metadata]
//	  [Tensor data: little-endian float32, 64-byte aligned]
//
// Tensors are written in sorted name order, so a state dict always
// produces the same data section.
//
// Example usage:
//
//	// Save the best snapshot
//	err := serialization.Write("model.born", model.StateDict(), serialization.Header{
//	    ModelType: "WasteClassifier",
//	    Labels:    classes,
//	})
//
//	// Load it back
//	header, stateDict, err := serialization.Read("model.born")
//	if err != nil {
//	    return err
//	}
//	err = model.LoadStateDict(stateDict)
package serialization

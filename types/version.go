package types

// Version is the canonical project version. All components report the
// same version (lockstep versioning).
const Version = "0.2.0"

// Package governance checks model output and repairs it. A DualCheckValidator
// runs business rules and an optional semantic review by the model; when it
// rejects content, the SelfCorrectionHandler rewrites the prompt and asks the
// model again. Gate wires both into the orchestrator as a QualityGate.
package governance

// types.go - Typen fuer das config.json Sidecar eines HuggingFace-Ausgabeverzeichnisses
//
// Enthaelt Typen fuer:
// - config.json Parsing (ConfigModelInfo)
// - Fehler bei Sidecar-Operationen (HuggingFaceError)
//
// Das Sidecar wird vom Trainingsframework geschrieben; die Konvertierung
// erzeugt es nicht, sondern setzt es voraus.
package huggingface

// ConfigFile ist der Dateiname des Sidecars im Ausgabeverzeichnis
const ConfigFile = "config.json"

// =============================================================================
// CONFIG PARSING TYPEN
// =============================================================================

// ConfigModelInfo enthaelt die fuer die Konvertierung relevanten
// Metadaten aus einer HuggingFace config.json.
type ConfigModelInfo struct {
	// Basis-Identifikation
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures,omitempty"`

	// Modell-Dimensionen
	HiddenSize      int `json:"hidden_size,omitempty"`
	NumHiddenLayers int `json:"num_hidden_layers,omitempty"`
	VocabSize       int `json:"vocab_size,omitempty"`

	// Zusaetzliche Felder
	TorchDtype          string `json:"torch_dtype,omitempty"`
	TransformersVersion string `json:"transformers_version,omitempty"`
	TieWordEmbeddings   bool   `json:"tie_word_embeddings,omitempty"`
}

// Architecture gibt die erste eingetragene Architektur zurueck
func (i *ConfigModelInfo) Architecture() string {
	if i == nil || len(i.Architectures) == 0 {
		return ""
	}
	return i.Architectures[0]
}

// =============================================================================
// ERROR TYPEN
// =============================================================================

// HuggingFaceError repraesentiert einen Fehler bei Sidecar-Operationen
type HuggingFaceError struct {
	Op   string // Operation (read, parse)
	Path string // Betroffene Datei
	Err  error  // Urspruenglicher Fehler
}

// Error implementiert das error Interface
func (e *HuggingFaceError) Error() string {
	if e.Path != "" {
		return "huggingface " + e.Op + " [" + e.Path + "]: " + e.Err.Error()
	}
	return "huggingface " + e.Op + ": " + e.Err.Error()
}

// Unwrap ermoeglicht errors.Is/As
func (e *HuggingFaceError) Unwrap() error {
	return e.Err
}

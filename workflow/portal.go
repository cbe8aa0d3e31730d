package workflow

import "github.com/BaSui01/sgaflow/config"

// Portal describes the pages the workflow walks through.
type Portal struct {
	URL string

	ProtocolInput  string
	SearchButton   string
	ResultLink     string
	DocumentButton string
	ChallengeImage string
	ChallengeAttr  string
	AnswerInput    string

	// The submit control has no stable id; it is found by label.
	SubmitTag   string
	SubmitLabel string
}

// DefaultPortal returns the SGA licensing-process portal layout.
func DefaultPortal() Portal {
	return Portal{
		URL:            config.DefaultPortalURL,
		ProtocolInput:  "#txtNumProtocolo-inputEl",
		SearchButton:   "#botaoPesquisar_consultarProcessoLicenciamentoGrid",
		ResultLink:     ".x-grid-cell-gridcolumn-1035 a",
		DocumentButton: "#btnPesquisarGeradorResiduo-btnEl",
		ChallengeImage: "#gera_captcha",
		ChallengeAttr:  "src",
		AnswerInput:    "#captchaDigitada-inputEl",
		SubmitTag:      "button",
		SubmitLabel:    "Continuar",
	}
}
